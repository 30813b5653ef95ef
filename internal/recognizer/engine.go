package recognizer

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by New.
const (
	BackendGRPC    = "grpc"
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

// DefaultGRPCEndpoint is used when the grpc backend has no endpoint.
const DefaultGRPCEndpoint = "127.0.0.1:50051"

// Config selects and configures one backend.
type Config struct {
	Backend     string
	Endpoint    string
	Method      string
	Model       string
	APIKey      string
	DialTimeout time.Duration
	Timeout     time.Duration
}

// New builds the engine named by cfg.Backend. An empty Endpoint selects the
// backend's default address.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendGRPC:
		endpoint := cfg.Endpoint
		if strings.TrimSpace(endpoint) == "" {
			endpoint = DefaultGRPCEndpoint
		}
		return NewGRPCEngine(GRPCConfig{
			Endpoint:    endpoint,
			Method:      cfg.Method,
			DialTimeout: cfg.DialTimeout,
		})
	case BackendWhisper:
		return NewWhisperEngine(WhisperConfig{
			URL:     cfg.Endpoint,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case BackendOpenAI:
		return NewOpenAIEngine(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported recognizer backend %q", cfg.Backend)
	}
}
