package config

import (
	"github.com/rbright/livecap/internal/audio"
	"github.com/rbright/livecap/internal/recognizer"
	"github.com/rbright/livecap/internal/segment"
)

// Format is the PCM format the capture source should produce.
func (c AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		ChunkDuration: c.ChunkDuration(),
	}
}

// Segmenter returns the voice activity settings.
func (c Config) Segmenter() segment.Config {
	return segment.Config{
		SampleRate:           c.Audio.SampleRate,
		EnergyThreshold:      c.VAD.EnergyThreshold,
		SilenceFrameLimit:    c.VAD.SilenceFrames,
		MinRecordingDuration: c.VAD.MinRecording(),
		Enabled:              c.VAD.Enabled,
	}
}

// Engine returns the backend selection for recognizer.New.
func (c RecognizerConfig) Engine() recognizer.Config {
	return recognizer.Config{
		Backend:     c.Backend,
		Endpoint:    c.Endpoint,
		Method:      c.Method,
		Model:       c.Model,
		APIKey:      c.APIKey,
		DialTimeout: c.DialTimeout(),
		Timeout:     c.Timeout(),
	}
}

// RecognitionOptions returns the per-request recognition hints.
func (c Config) RecognitionOptions() recognizer.Options {
	return recognizer.Options{
		Language:   c.Recognizer.Language,
		Task:       c.Recognizer.Task,
		Model:      c.Recognizer.Model,
		SampleRate: c.Audio.SampleRate,
	}
}
