package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/livecap/internal/audio"
)

const (
	defaultWhisperURL   = "http://127.0.0.1:8387"
	defaultWhisperModel = "base"
)

// WhisperConfig addresses a faster-whisper HTTP sidecar.
type WhisperConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
	Client  *http.Client
}

// WhisperEngine uploads each utterance as a WAV file.
type WhisperEngine struct {
	cfg    WhisperConfig
	client *http.Client
}

func NewWhisperEngine(cfg WhisperConfig) *WhisperEngine {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		cfg.URL = defaultWhisperURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultWhisperModel
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WhisperEngine{cfg: cfg, client: client}
}

func (e *WhisperEngine) Name() string {
	return "whisper"
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func (e *WhisperEngine) Infer(ctx context.Context, samples []float32, opts Options) (string, error) {
	body, contentType, err := e.form(samples, opts)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL+"/transcribe", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whisper error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	if result.Text == "" && len(result.Segments) > 0 {
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			parts = append(parts, strings.TrimSpace(seg.Text))
		}
		return strings.Join(parts, " "), nil
	}
	return result.Text, nil
}

func (e *WhisperEngine) form(samples []float32, opts Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := audio.WriteWAV(part, PCM(samples), opts.SampleRate, 1); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	model := e.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	_ = writer.WriteField("model", model)
	if opts.Language != "" {
		_ = writer.WriteField("language", opts.Language)
	}
	if opts.Task != "" {
		_ = writer.WriteField("task", opts.Task)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// Health probes the sidecar's /health endpoint.
func (e *WhisperEngine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: whisper health status %d", ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

func (e *WhisperEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
