package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PulseSource captures from a PulseAudio (or PipeWire-Pulse) input device.
type PulseSource struct {
	Device   string
	Fallback string
	Format   Format
	Logger   *slog.Logger
}

func (s *PulseSource) Name() string {
	return "pulse"
}

// Open selects the device and starts a record stream.
func (s *PulseSource) Open(ctx context.Context) (Stream, error) {
	selection, err := SelectDevice(ctx, s.Device, s.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && s.Logger != nil {
		s.Logger.Warn("audio device fallback", "warning", selection.Warning)
	}
	return startPulseStream(ctx, selection.Device, s.Format)
}

// lostPollInterval is how often an open stream checks for server loss.
const lostPollInterval = 250 * time.Millisecond

var errServerLost = errors.New("pulse server connection lost")

// pulseStream re-slices Pulse frames into fixed-size chunks.
type pulseStream struct {
	device    Device
	chunkSize int

	client *pulse.Client
	record *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	// lost reports whether the server dropped the record stream.
	lost func() (bool, error)

	mu      sync.Mutex
	pending []byte
	stopped bool
	err     error

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func newPulseStream(device Device, chunkSize int) *pulseStream {
	return &pulseStream{
		device:    device,
		chunkSize: chunkSize,
		chunks:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
	}
}

func startPulseStream(ctx context.Context, device Device, format Format) (*pulseStream, error) {
	format = format.normalized()

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	stream := newPulseStream(device, format.ChunkBytes())
	stream.client = client

	opts := []pulse.RecordOption{
		pulse.RecordSource(source),
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(stream.chunkSize)),
		pulse.RecordMediaName("livecap capture"),
	}
	if format.Channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}

	record, err := client.NewRecord(pulse.NewWriter(writerFunc(stream.onPCM), pulseproto.FormatInt16LE), opts...)
	if err != nil {
		_ = stream.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	stream.record = record
	stream.lost = func() (bool, error) {
		if !record.Closed() {
			return false, nil
		}
		return true, record.Error()
	}
	record.Start()

	go stream.watch(ctx, lostPollInterval)

	return stream, nil
}

// watch stops the stream when ctx ends or the server goes away.
func (s *pulseStream) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.Stop()
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.lost == nil {
				continue
			}
			if lost, err := s.lost(); lost {
				if err == nil {
					err = errServerLost
				}
				s.abort(err)
				return
			}
		}
	}
}

// abort records err as the stream failure and stops the stream.
func (s *pulseStream) abort(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	_ = s.Stop()
}

func (s *pulseStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err reports why the stream ended on its own; it is nil after Stop.
func (s *pulseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// BytesCaptured reports total bytes accepted from Pulse.
func (s *pulseStream) BytesCaptured() int64 {
	return s.bytes.Load()
}

// Stop halts capture, flushes the partial chunk and closes Chunks once.
func (s *pulseStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.record != nil {
		s.record.Stop()
		s.record.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	tail := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(tail) > 0 {
		select {
		case s.chunks <- tail:
		default:
		}
	}
	close(s.chunks)
	return nil
}

// onPCM is the Pulse writer callback.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same lock as stopped so Stop's Wait cannot race it.
	s.inflight.Add(1)
	defer s.inflight.Done()

	s.pending = append(s.pending, buffer...)
	var ready [][]byte
	for len(s.pending) >= s.chunkSize {
		chunk := make([]byte, s.chunkSize)
		copy(chunk, s.pending)
		s.pending = s.pending[s.chunkSize:]
		ready = append(ready, chunk)
	}
	s.mu.Unlock()

	s.bytes.Add(int64(len(buffer)))

	for _, chunk := range ready {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
