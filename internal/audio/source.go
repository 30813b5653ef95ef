// Package audio opens PCM capture streams from PulseAudio or raw byte sources
// and encodes finished recordings as WAV.
package audio

import (
	"context"
	"time"
)

// Format describes the signed 16-bit little-endian PCM the pipeline consumes.
type Format struct {
	SampleRate    int
	Channels      int
	ChunkDuration time.Duration
}

// DefaultFormat is 16kHz mono in 100ms chunks.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, ChunkDuration: 100 * time.Millisecond}
}

// ChunkBytes returns the byte length of one chunk, rounded to whole frames.
func (f Format) ChunkBytes() int {
	f = f.normalized()
	frames := int(int64(f.SampleRate) * int64(f.ChunkDuration) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	return frames * f.Channels * 2
}

func (f Format) normalized() Format {
	def := DefaultFormat()
	if f.SampleRate <= 0 {
		f.SampleRate = def.SampleRate
	}
	if f.Channels <= 0 {
		f.Channels = def.Channels
	}
	if f.ChunkDuration <= 0 {
		f.ChunkDuration = def.ChunkDuration
	}
	return f
}

// Source opens a new capture stream each time a session starts.
type Source interface {
	Name() string
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers chunks until stopped or exhausted. Chunks is closed when
// the stream ends; Err then reports nil for a clean end and the cause
// otherwise.
type Stream interface {
	Chunks() <-chan []byte
	Err() error
	Stop() error
}
