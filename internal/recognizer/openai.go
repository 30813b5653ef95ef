package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rbright/livecap/internal/audio"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig targets the OpenAI audio API or a compatible server.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIEngine uses the audio transcription and translation endpoints.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	key := strings.TrimSpace(cfg.APIKey)
	base := strings.TrimSpace(cfg.BaseURL)
	if key == "" && base == "" {
		return nil, errors.New("openai api key is empty")
	}

	clientCfg := openai.DefaultConfig(key)
	if base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (e *OpenAIEngine) Name() string {
	return "openai"
}

func (e *OpenAIEngine) Infer(ctx context.Context, samples []float32, opts Options) (string, error) {
	model := e.model
	if opts.Model != "" {
		model = opts.Model
	}
	req := openai.AudioRequest{
		Model:    model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio.EncodeWAV(PCM(samples), opts.SampleRate, 1)),
		Format:   openai.AudioResponseFormatJSON,
	}

	var (
		resp openai.AudioResponse
		err  error
	)
	if opts.Task == TaskTranslate {
		resp, err = e.client.CreateTranslation(ctx, req)
	} else {
		req.Language = opts.Language
		resp, err = e.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", taskName(opts.Task), err)
	}
	return resp.Text, nil
}

// Health lists models as a cheap authenticated round trip.
func (e *OpenAIEngine) Health(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return nil
}

func (e *OpenAIEngine) Close() error {
	return nil
}

func taskName(task string) string {
	if task == "" {
		return TaskTranscribe
	}
	return task
}
