// Package segment splits a PCM chunk stream into utterances using RMS energy
// voice activity detection.
package segment

import (
	"encoding/binary"
	"math"
	"time"
)

const defaultSampleRate = 16000

// Config holds the voice activity thresholds.
type Config struct {
	SampleRate           int
	EnergyThreshold      float64
	SilenceFrameLimit    int
	MinRecordingDuration time.Duration
	Enabled              bool
}

type EventKind int

const (
	EventNone EventKind = iota
	EventUtteranceStarted
	EventUtteranceReady
)

func (k EventKind) String() string {
	switch k {
	case EventUtteranceStarted:
		return "utterance_started"
	case EventUtteranceReady:
		return "utterance_ready"
	default:
		return "none"
	}
}

// Event is the outcome of one Push.
type Event struct {
	Kind   EventKind
	Energy float64

	// Utterance is set for EventUtteranceReady.
	Utterance Utterance

	// Discarded is set on EventNone when a buffered utterance was dropped as
	// noise. Discarded utterances are never reported as events.
	Discarded     bool
	DiscardedSpan time.Duration
}

// VADState is a snapshot of the segmenter's mutable detection state.
type VADState struct {
	SilentFrames int
	Buffering    bool
	// BufferStart is the stream offset of the current onset; only meaningful
	// while Buffering.
	BufferStart time.Duration
}

// Segmenter is not safe for concurrent use; the session loop owns it.
type Segmenter struct {
	cfg Config
	now func() time.Time

	clock time.Duration

	buffer       [][]byte
	buffered     time.Duration
	silentFrames int
	startOffset  time.Duration
	lastVoiceEnd time.Duration
	startedAt    time.Time
}

// New constructs a segmenter with sample-rate fallback.
func New(cfg Config) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	return &Segmenter{cfg: cfg, now: time.Now}
}

// Config returns the active thresholds.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Push classifies one chunk and advances the utterance buffer.
func (s *Segmenter) Push(chunk []byte) Event {
	energy := Energy(chunk)
	offset := s.clock
	s.clock += s.chunkDuration(chunk)

	if !s.cfg.Enabled {
		started := s.append(chunk, offset)
		s.lastVoiceEnd = s.clock
		if started {
			return Event{Kind: EventUtteranceStarted, Energy: energy}
		}
		return Event{Kind: EventNone, Energy: energy}
	}

	if energy > s.cfg.EnergyThreshold {
		s.silentFrames = 0
		started := s.append(chunk, offset)
		s.lastVoiceEnd = s.clock
		if started {
			return Event{Kind: EventUtteranceStarted, Energy: energy}
		}
		return Event{Kind: EventNone, Energy: energy}
	}

	s.silentFrames++
	if len(s.buffer) == 0 {
		return Event{Kind: EventNone, Energy: energy}
	}

	// trailing silence belongs to the utterance
	s.append(chunk, offset)
	if s.silentFrames < s.cfg.SilenceFrameLimit {
		return Event{Kind: EventNone, Energy: energy}
	}

	utterance, span, ok := s.finalize()
	if !ok {
		return Event{Kind: EventNone, Energy: energy, Discarded: true, DiscardedSpan: span}
	}
	return Event{Kind: EventUtteranceReady, Energy: energy, Utterance: utterance}
}

// Flush finalizes the in-progress buffer on explicit stop.
//
// With detection disabled the whole recording is returned regardless of its
// length; otherwise the minimum-duration rule still applies.
func (s *Segmenter) Flush() (Utterance, bool) {
	if len(s.buffer) == 0 {
		return Utterance{}, false
	}
	if !s.cfg.Enabled {
		return s.take(), true
	}
	utterance, _, ok := s.finalize()
	return utterance, ok
}

// Reset drops any buffered audio and counters. The stream clock keeps running.
func (s *Segmenter) Reset() {
	s.buffer = nil
	s.buffered = 0
	s.silentFrames = 0
	s.startedAt = time.Time{}
}

// Buffering reports whether an utterance is in progress.
func (s *Segmenter) Buffering() bool {
	return len(s.buffer) > 0
}

// State returns the current detection state.
func (s *Segmenter) State() VADState {
	return VADState{
		SilentFrames: s.silentFrames,
		Buffering:    len(s.buffer) > 0,
		BufferStart:  s.startOffset,
	}
}

// append adds chunk to the buffer and reports whether it opened a new one.
func (s *Segmenter) append(chunk []byte, offset time.Duration) bool {
	started := len(s.buffer) == 0
	if started {
		s.startOffset = offset
		s.startedAt = s.now()
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	s.buffer = append(s.buffer, owned)
	s.buffered += s.chunkDuration(chunk)
	return started
}

// finalize hands off the buffer unless its voiced span is below the minimum.
func (s *Segmenter) finalize() (Utterance, time.Duration, bool) {
	span := s.lastVoiceEnd - s.startOffset
	utterance := s.take()
	if span < s.cfg.MinRecordingDuration {
		return Utterance{}, span, false
	}
	return utterance, span, true
}

// take moves the buffer out as an Utterance and resets state.
func (s *Segmenter) take() Utterance {
	utterance := Utterance{
		Chunks:     s.buffer,
		StartedAt:  s.startedAt,
		Offset:     s.startOffset,
		SampleRate: s.cfg.SampleRate,
		duration:   s.buffered,
		voiced:     s.lastVoiceEnd - s.startOffset,
	}
	s.Reset()
	return utterance
}

func (s *Segmenter) chunkDuration(chunk []byte) time.Duration {
	samples := len(chunk) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Energy returns the root-mean-square of a little-endian int16 PCM chunk.
func Energy(chunk []byte) float64 {
	samples := len(chunk) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(samples))
}
