// Package config resolves, parses, validates, and defaults livecap configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Server     ServerConfig
	Audio      AudioConfig
	VAD        VADConfig
	Recognizer RecognizerConfig
	Broadcast  BroadcastConfig
	Transcript TranscriptConfig
	Logging    LoggingConfig
	Debug      DebugConfig
}

// ServerConfig controls the observer endpoint and the control socket.
type ServerConfig struct {
	Listen            string
	WSPath            string
	StaticDir         string
	Socket            string
	MDNS              bool
	AutoStart         bool
	AutoStartDelayMS  int
	ShutdownTimeoutMS int
}

// Audio source kinds.
const (
	SourcePulse = "pulse"
	SourceFile  = "file"
	SourceStdin = "stdin"
)

// AudioConfig selects the capture source and PCM format.
type AudioConfig struct {
	Source     string
	Device     string
	Fallback   string
	File       string
	Realtime   bool
	SampleRate int
	Channels   int
	ChunkMS    int
}

// VADConfig holds the voice activity detection thresholds.
type VADConfig struct {
	Enabled         bool
	EnergyThreshold float64
	SilenceFrames   int
	MinRecordingMS  int
}

// RecognizerConfig selects and tunes the speech recognition backend.
type RecognizerConfig struct {
	Backend       string
	Endpoint      string
	Method        string
	Model         string
	APIKey        string
	Language      string
	Task          string
	TimeoutMS     int
	DialTimeoutMS int
}

// BroadcastConfig bounds per-observer delivery.
type BroadcastConfig struct {
	QueueSize      int
	WriteTimeoutMS int
}

// TranscriptConfig controls transcript text cleanup.
type TranscriptConfig struct {
	CapitalizeSentences bool
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	DumpDir         string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (c ServerConfig) AutoStartDelay() time.Duration  { return millis(c.AutoStartDelayMS) }
func (c ServerConfig) ShutdownTimeout() time.Duration { return millis(c.ShutdownTimeoutMS) }
func (c AudioConfig) ChunkDuration() time.Duration    { return millis(c.ChunkMS) }
func (c VADConfig) MinRecording() time.Duration       { return millis(c.MinRecordingMS) }
func (c RecognizerConfig) Timeout() time.Duration     { return millis(c.TimeoutMS) }
func (c RecognizerConfig) DialTimeout() time.Duration { return millis(c.DialTimeoutMS) }
func (c BroadcastConfig) WriteTimeout() time.Duration { return millis(c.WriteTimeoutMS) }
