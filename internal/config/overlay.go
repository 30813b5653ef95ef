package config

import "strings"

// fileConfig is the on-disk shape shared by JSONC and YAML. Nil fields keep
// the base value.
type fileConfig struct {
	Server     *fileServer     `json:"server" yaml:"server"`
	Audio      *fileAudio      `json:"audio" yaml:"audio"`
	VAD        *fileVAD        `json:"vad" yaml:"vad"`
	Recognizer *fileRecognizer `json:"recognizer" yaml:"recognizer"`
	Broadcast  *fileBroadcast  `json:"broadcast" yaml:"broadcast"`
	Transcript *fileTranscript `json:"transcript" yaml:"transcript"`
	Logging    *fileLogging    `json:"logging" yaml:"logging"`
	Debug      *fileDebug      `json:"debug" yaml:"debug"`
}

type fileServer struct {
	Listen            *string `json:"listen" yaml:"listen"`
	WSPath            *string `json:"ws_path" yaml:"ws_path"`
	StaticDir         *string `json:"static_dir" yaml:"static_dir"`
	Socket            *string `json:"socket" yaml:"socket"`
	MDNS              *bool   `json:"mdns" yaml:"mdns"`
	AutoStart         *bool   `json:"auto_start" yaml:"auto_start"`
	AutoStartDelayMS  *int    `json:"auto_start_delay_ms" yaml:"auto_start_delay_ms"`
	ShutdownTimeoutMS *int    `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
}

type fileAudio struct {
	Source     *string `json:"source" yaml:"source"`
	Device     *string `json:"device" yaml:"device"`
	Fallback   *string `json:"fallback" yaml:"fallback"`
	File       *string `json:"file" yaml:"file"`
	Realtime   *bool   `json:"realtime" yaml:"realtime"`
	SampleRate *int    `json:"sample_rate" yaml:"sample_rate"`
	Channels   *int    `json:"channels" yaml:"channels"`
	ChunkMS    *int    `json:"chunk_ms" yaml:"chunk_ms"`
}

type fileVAD struct {
	Enabled         *bool    `json:"enabled" yaml:"enabled"`
	EnergyThreshold *float64 `json:"energy_threshold" yaml:"energy_threshold"`
	SilenceFrames   *int     `json:"silence_frames" yaml:"silence_frames"`
	MinRecordingMS  *int     `json:"min_recording_ms" yaml:"min_recording_ms"`
}

type fileRecognizer struct {
	Backend       *string `json:"backend" yaml:"backend"`
	Endpoint      *string `json:"endpoint" yaml:"endpoint"`
	Method        *string `json:"method" yaml:"method"`
	Model         *string `json:"model" yaml:"model"`
	APIKey        *string `json:"api_key" yaml:"api_key"`
	Language      *string `json:"language" yaml:"language"`
	Task          *string `json:"task" yaml:"task"`
	TimeoutMS     *int    `json:"timeout_ms" yaml:"timeout_ms"`
	DialTimeoutMS *int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type fileBroadcast struct {
	QueueSize      *int `json:"queue_size" yaml:"queue_size"`
	WriteTimeoutMS *int `json:"write_timeout_ms" yaml:"write_timeout_ms"`
}

type fileTranscript struct {
	CapitalizeSentences *bool `json:"capitalize_sentences" yaml:"capitalize_sentences"`
}

type fileLogging struct {
	Level  *string `json:"level" yaml:"level"`
	Format *string `json:"format" yaml:"format"`
	Output *string `json:"output" yaml:"output"`
}

type fileDebug struct {
	AudioDump *bool   `json:"audio_dump" yaml:"audio_dump"`
	DumpDir   *string `json:"dump_dir" yaml:"dump_dir"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (payload fileConfig) applyTo(cfg *Config) {
	if s := payload.Server; s != nil {
		setString(&cfg.Server.Listen, s.Listen)
		setString(&cfg.Server.WSPath, s.WSPath)
		setString(&cfg.Server.StaticDir, s.StaticDir)
		setString(&cfg.Server.Socket, s.Socket)
		setBool(&cfg.Server.MDNS, s.MDNS)
		setBool(&cfg.Server.AutoStart, s.AutoStart)
		setInt(&cfg.Server.AutoStartDelayMS, s.AutoStartDelayMS)
		setInt(&cfg.Server.ShutdownTimeoutMS, s.ShutdownTimeoutMS)
	}

	if a := payload.Audio; a != nil {
		if a.Source != nil {
			cfg.Audio.Source = strings.ToLower(strings.TrimSpace(*a.Source))
		}
		setString(&cfg.Audio.Device, a.Device)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setString(&cfg.Audio.File, a.File)
		setBool(&cfg.Audio.Realtime, a.Realtime)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.Channels, a.Channels)
		setInt(&cfg.Audio.ChunkMS, a.ChunkMS)
	}

	if v := payload.VAD; v != nil {
		setBool(&cfg.VAD.Enabled, v.Enabled)
		if v.EnergyThreshold != nil {
			cfg.VAD.EnergyThreshold = *v.EnergyThreshold
		}
		setInt(&cfg.VAD.SilenceFrames, v.SilenceFrames)
		setInt(&cfg.VAD.MinRecordingMS, v.MinRecordingMS)
	}

	if r := payload.Recognizer; r != nil {
		if r.Backend != nil {
			cfg.Recognizer.Backend = strings.ToLower(strings.TrimSpace(*r.Backend))
		}
		setString(&cfg.Recognizer.Endpoint, r.Endpoint)
		setString(&cfg.Recognizer.Method, r.Method)
		setString(&cfg.Recognizer.Model, r.Model)
		setString(&cfg.Recognizer.APIKey, r.APIKey)
		setString(&cfg.Recognizer.Language, r.Language)
		if r.Task != nil {
			cfg.Recognizer.Task = strings.ToLower(strings.TrimSpace(*r.Task))
		}
		setInt(&cfg.Recognizer.TimeoutMS, r.TimeoutMS)
		setInt(&cfg.Recognizer.DialTimeoutMS, r.DialTimeoutMS)
	}

	if b := payload.Broadcast; b != nil {
		setInt(&cfg.Broadcast.QueueSize, b.QueueSize)
		setInt(&cfg.Broadcast.WriteTimeoutMS, b.WriteTimeoutMS)
	}

	if payload.Transcript != nil {
		setBool(&cfg.Transcript.CapitalizeSentences, payload.Transcript.CapitalizeSentences)
	}

	if l := payload.Logging; l != nil {
		setString(&cfg.Logging.Level, l.Level)
		setString(&cfg.Logging.Format, l.Format)
		setString(&cfg.Logging.Output, l.Output)
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setString(&cfg.Debug.DumpDir, d.DumpDir)
	}
}
