package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rbright/livecap/internal/logging"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return nil, fmt.Errorf("server.listen must be host:port: %w", err)
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		return nil, fmt.Errorf("server.ws_path must start with '/'")
	}
	if cfg.Server.AutoStartDelayMS < 0 {
		return nil, fmt.Errorf("server.auto_start_delay_ms must be >= 0")
	}
	if cfg.Server.ShutdownTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.shutdown_timeout_ms must be > 0")
	}

	switch cfg.Audio.Source {
	case SourcePulse, SourceStdin:
	case SourceFile:
		if cfg.Audio.File == "" {
			return nil, fmt.Errorf("audio.file must be set when audio.source=file")
		}
	default:
		return nil, fmt.Errorf("audio.source must be one of: pulse, file, stdin")
	}
	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if cfg.Audio.Channels != 1 {
		return nil, fmt.Errorf("audio.channels must be 1; detection and recognition expect mono")
	}
	if cfg.Audio.ChunkMS <= 0 {
		return nil, fmt.Errorf("audio.chunk_ms must be > 0")
	}

	if cfg.VAD.EnergyThreshold < 0 {
		return nil, fmt.Errorf("vad.energy_threshold must be >= 0")
	}
	if cfg.VAD.Enabled && cfg.VAD.EnergyThreshold == 0 {
		warnings = append(warnings, Warning{Message: "vad.energy_threshold=0 treats any non-silent chunk as speech"})
	}
	if cfg.VAD.SilenceFrames <= 0 {
		return nil, fmt.Errorf("vad.silence_frames must be > 0")
	}
	if cfg.VAD.MinRecordingMS < 0 {
		return nil, fmt.Errorf("vad.min_recording_ms must be >= 0")
	}

	switch cfg.Recognizer.Backend {
	case "grpc", "whisper":
		if cfg.Recognizer.Endpoint == "" {
			return nil, fmt.Errorf("recognizer.endpoint must not be empty for backend %s", cfg.Recognizer.Backend)
		}
	case "openai":
		if cfg.Recognizer.APIKey == "" {
			return nil, fmt.Errorf("recognizer.api_key (or %s) is required for backend openai", EnvOpenAIAPIKey)
		}
	default:
		return nil, fmt.Errorf("recognizer.backend must be one of: grpc, whisper, openai")
	}
	if cfg.Recognizer.Task != "transcribe" && cfg.Recognizer.Task != "translate" {
		return nil, fmt.Errorf("recognizer.task must be one of: transcribe, translate")
	}
	if cfg.Recognizer.Language == "" {
		warnings = append(warnings, Warning{Message: "recognizer.language is empty; the engine will auto-detect"})
	}
	if cfg.Recognizer.TimeoutMS <= 0 {
		return nil, fmt.Errorf("recognizer.timeout_ms must be > 0")
	}
	if cfg.Recognizer.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("recognizer.dial_timeout_ms must be > 0")
	}

	if cfg.Broadcast.QueueSize <= 0 {
		return nil, fmt.Errorf("broadcast.queue_size must be > 0")
	}
	if cfg.Broadcast.WriteTimeoutMS <= 0 {
		return nil, fmt.Errorf("broadcast.write_timeout_ms must be > 0")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	if f := strings.ToLower(cfg.Logging.Format); f != "json" && f != "text" && f != "" {
		return nil, fmt.Errorf("logging.format must be one of: json, text")
	}

	return warnings, nil
}
