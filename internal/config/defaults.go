package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:            "127.0.0.1:3000",
			WSPath:            "/ws",
			AutoStart:         true,
			AutoStartDelayMS:  1000,
			ShutdownTimeoutMS: 5000,
		},
		Audio: AudioConfig{
			Source:     SourcePulse,
			Device:     "default",
			Fallback:   "default",
			Realtime:   true,
			SampleRate: 16000,
			Channels:   1,
			ChunkMS:    100,
		},
		VAD: VADConfig{
			Enabled:         true,
			EnergyThreshold: 300,
			SilenceFrames:   20,
			MinRecordingMS:  1000,
		},
		Recognizer: RecognizerConfig{
			Backend:       "grpc",
			Endpoint:      "127.0.0.1:50051",
			Language:      "en",
			Task:          "transcribe",
			TimeoutMS:     30000,
			DialTimeoutMS: 3000,
		},
		Broadcast: BroadcastConfig{
			QueueSize:      64,
			WriteTimeoutMS: 10000,
		},
		Transcript: TranscriptConfig{CapitalizeSentences: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}
