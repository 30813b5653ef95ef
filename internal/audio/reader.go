package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ReaderSource streams PCM from a reader opened fresh on every Open. A WAV
// header, when present, is validated against Format and skipped.
type ReaderSource struct {
	Label    string
	OpenFunc func() (io.ReadCloser, error)
	Format   Format

	// Realtime paces chunks at their playback duration.
	Realtime bool
}

// NewFileSource reads raw PCM or WAV from path.
func NewFileSource(path string, format Format, realtime bool) *ReaderSource {
	return &ReaderSource{
		Label:    "file",
		OpenFunc: func() (io.ReadCloser, error) { return os.Open(path) },
		Format:   format,
		Realtime: realtime,
	}
}

// NewStdinSource reads raw PCM or WAV from standard input. Restarting the
// capture resumes where the previous one stopped.
func NewStdinSource(format Format, realtime bool) *SharedReaderSource {
	return NewSharedReaderSource("stdin", os.Stdin, format, realtime)
}

func (s *ReaderSource) Name() string {
	if s.Label == "" {
		return "reader"
	}
	return s.Label
}

func (s *ReaderSource) Open(ctx context.Context) (Stream, error) {
	if s.OpenFunc == nil {
		return nil, errors.New("reader source has no input")
	}
	rc, err := s.OpenFunc()
	if err != nil {
		return nil, fmt.Errorf("open %s input: %w", s.Name(), err)
	}

	format := s.Format.normalized()
	br := bufio.NewReader(rc)
	info, isWAV, err := skipWAVHeader(br)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("parse wav header: %w", err)
	}
	if isWAV {
		if err := checkWAVFormat(info, format); err != nil {
			_ = rc.Close()
			return nil, err
		}
	}

	stream := &readerStream{
		closer:    rc,
		reader:    br,
		chunkSize: format.ChunkBytes(),
		chunks:    make(chan []byte, 16),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.Realtime {
		stream.pace = format.ChunkDuration
	}
	go stream.run(ctx)
	return stream, nil
}

func checkWAVFormat(info WAVInfo, format Format) error {
	if info.Format != 1 || info.BitsPerSample != 16 {
		return fmt.Errorf("wav input must be 16-bit PCM (format=%d bits=%d)", info.Format, info.BitsPerSample)
	}
	if info.SampleRate != format.SampleRate || info.Channels != format.Channels {
		return fmt.Errorf("wav input is %dHz/%dch, expected %dHz/%dch",
			info.SampleRate, info.Channels, format.SampleRate, format.Channels)
	}
	return nil
}

type readerStream struct {
	closer    io.Closer
	reader    io.Reader
	chunkSize int
	pace      time.Duration

	chunks chan []byte
	stopCh chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (s *readerStream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.chunks)
	defer func() { _ = s.closer.Close() }()

	var ticker *time.Ticker
	if s.pace > 0 {
		ticker = time.NewTicker(s.pace)
		defer ticker.Stop()
	}

	for {
		chunk := make([]byte, s.chunkSize)
		n, err := io.ReadFull(s.reader, chunk)
		n -= n % 2
		if n > 0 {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case s.chunks <- chunk[:n]:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		default:
			s.mu.Lock()
			s.err = fmt.Errorf("read audio: %w", err)
			s.mu.Unlock()
			return
		}
	}
}

func (s *readerStream) Chunks() <-chan []byte {
	return s.chunks
}

func (s *readerStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends the stream. The reader goroutine exits at its next chunk
// boundary; a read blocked on an idle pipe finishes when the pipe does.
func (s *readerStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// SharedReaderSource reads a single input for the life of the process. One
// goroutine owns the input; each Open attaches a stream to it and Stop
// detaches that stream without touching the input.
type SharedReaderSource struct {
	label    string
	input    io.Reader
	format   Format
	realtime bool

	once sync.Once
	pump *readerStream
}

// NewSharedReaderSource reads raw PCM or WAV from input. A WAV header is
// only recognized at the very start of input.
func NewSharedReaderSource(label string, input io.Reader, format Format, realtime bool) *SharedReaderSource {
	return &SharedReaderSource{
		label:    label,
		input:    input,
		format:   format,
		realtime: realtime,
	}
}

func (s *SharedReaderSource) Name() string {
	return s.label
}

func (s *SharedReaderSource) Open(ctx context.Context) (Stream, error) {
	s.once.Do(s.start)

	stream := &sharedStream{
		pump:   s.pump,
		chunks: make(chan []byte),
		stopCh: make(chan struct{}),
	}
	go stream.forward(ctx)
	return stream, nil
}

func (s *SharedReaderSource) start() {
	format := s.format.normalized()
	s.pump = &readerStream{
		closer:    io.NopCloser(nil),
		chunkSize: format.ChunkBytes(),
		chunks:    make(chan []byte),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.realtime {
		s.pump.pace = format.ChunkDuration
	}

	go func() {
		br := bufio.NewReader(s.input)
		info, isWAV, err := skipWAVHeader(br)
		if err != nil {
			err = fmt.Errorf("parse wav header: %w", err)
		} else if isWAV {
			err = checkWAVFormat(info, format)
		}
		if err != nil {
			s.pump.mu.Lock()
			s.pump.err = err
			s.pump.mu.Unlock()
			close(s.pump.chunks)
			close(s.pump.done)
			return
		}
		s.pump.reader = br
		s.pump.run(context.Background())
	}()
}

// sharedStream forwards chunks from the shared pump until stopped.
type sharedStream struct {
	pump   *readerStream
	chunks chan []byte
	stopCh chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (s *sharedStream) forward(ctx context.Context) {
	defer close(s.chunks)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case chunk, ok := <-s.pump.chunks:
			if !ok {
				s.mu.Lock()
				s.err = s.pump.Err()
				s.mu.Unlock()
				return
			}
			select {
			case s.chunks <- chunk:
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *sharedStream) Chunks() <-chan []byte {
	return s.chunks
}

func (s *sharedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop detaches the stream. The shared input stays open for the next Open.
func (s *sharedStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}
