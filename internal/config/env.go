package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override file values.
const (
	EnvListen             = "LIVECAP_LISTEN"
	EnvAudioDevice        = "LIVECAP_AUDIO_DEVICE"
	EnvRecognizerBackend  = "LIVECAP_RECOGNIZER_BACKEND"
	EnvRecognizerEndpoint = "LIVECAP_RECOGNIZER_ENDPOINT"
	EnvRecognizerAPIKey   = "LIVECAP_RECOGNIZER_API_KEY"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvLogLevel           = "LIVECAP_LOG_LEVEL"
)

// LookupFunc resolves one environment key.
type LookupFunc func(key string) (string, bool)

// envLookup layers non-empty process environment values over a .env file
// beside the config file. A missing .env is not an error.
func envLookup(configPath string) (LookupFunc, error) {
	dotenvPath := filepath.Join(filepath.Dir(configPath), ".env")
	values, err := godotenv.Read(dotenvPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
		}
		values = map[string]string{}
	}

	return func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// applyEnv overlays environment values onto cfg.
func applyEnv(cfg *Config, lookup LookupFunc) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set(&cfg.Server.Listen, EnvListen)
	set(&cfg.Audio.Device, EnvAudioDevice)
	set(&cfg.Recognizer.Backend, EnvRecognizerBackend)
	set(&cfg.Recognizer.Endpoint, EnvRecognizerEndpoint)
	set(&cfg.Recognizer.APIKey, EnvRecognizerAPIKey)
	if cfg.Recognizer.APIKey == "" {
		set(&cfg.Recognizer.APIKey, EnvOpenAIAPIKey)
	}
	set(&cfg.Logging.Level, EnvLogLevel)
	cfg.Recognizer.Backend = strings.ToLower(cfg.Recognizer.Backend)
}
