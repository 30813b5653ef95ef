// Package recognizer turns finalized utterances into text through a pluggable
// speech-to-text engine.
package recognizer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/livecap/internal/segment"
)

var ErrEngineUnavailable = errors.New("recognition engine unavailable")

// Task values understood by every engine.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Options are the per-call recognition parameters.
type Options struct {
	Language   string
	Task       string
	Model      string
	SampleRate int
}

// Engine is one speech-to-text backend. Infer receives mono float32 samples
// in [-1, 1].
type Engine interface {
	Name() string
	Infer(ctx context.Context, samples []float32, opts Options) (string, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics receives one observation per recognition call.
type Metrics interface {
	ObserveRecognition(backend, outcome string, elapsed time.Duration)
}

// Recognition outcomes.
const (
	OutcomeText  = "text"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

type noopMetrics struct{}

func (noopMetrics) ObserveRecognition(string, string, time.Duration) {}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Options   Options
	Timeout   time.Duration
	Normalize func(string) string
	Logger    *slog.Logger
	Metrics   Metrics
}

// Adapter wraps an Engine so that recognition never fails outward: errors,
// panics and blank results all become "no text".
type Adapter struct {
	engine    Engine
	opts      Options
	timeout   time.Duration
	normalize func(string) string
	logger    *slog.Logger
	metrics   Metrics
}

// NewAdapter binds engine to the given options.
func NewAdapter(engine Engine, cfg AdapterConfig) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Adapter{
		engine:    engine,
		opts:      cfg.Options,
		timeout:   cfg.Timeout,
		normalize: cfg.Normalize,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Engine returns the wrapped backend.
func (a *Adapter) Engine() Engine {
	return a.engine
}

// Result is the outcome of one recognition call.
type Result struct {
	Text    string
	Outcome string
}

// OK reports whether the result carries usable text.
func (r Result) OK() bool {
	return r.Outcome == OutcomeText
}

// Transcribe recognizes one utterance. ok is false when there is no usable
// text.
func (a *Adapter) Transcribe(ctx context.Context, utterance segment.Utterance) (string, bool) {
	result := a.Recognize(ctx, utterance)
	return result.Text, result.OK()
}

// Recognize is Transcribe with the outcome kept, so callers can tell an
// engine failure from silence.
func (a *Adapter) Recognize(ctx context.Context, utterance segment.Utterance) (result Result) {
	started := time.Now()
	result.Outcome = OutcomeError
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("recognition panicked", "engine", a.engine.Name(), "panic", fmt.Sprint(r))
			result = Result{Outcome: OutcomeError}
		}
		a.metrics.ObserveRecognition(a.engine.Name(), result.Outcome, time.Since(started))
	}()

	if utterance.Empty() {
		return Result{Outcome: OutcomeEmpty}
	}

	opts := a.opts
	if utterance.SampleRate > 0 {
		opts.SampleRate = utterance.SampleRate
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := a.engine.Infer(ctx, Samples(utterance.PCM()), opts)
	if err != nil {
		a.logger.Error("recognition failed",
			"engine", a.engine.Name(),
			"duration_ms", utterance.Duration().Milliseconds(),
			"error", err.Error(),
		)
		return Result{Outcome: OutcomeError}
	}

	text := strings.TrimSpace(raw)
	if text != "" && a.normalize != nil {
		text = strings.TrimSpace(a.normalize(text))
	}
	if text == "" {
		return Result{Outcome: OutcomeEmpty}
	}

	a.logger.Debug("recognition complete",
		"engine", a.engine.Name(),
		"duration_ms", utterance.Duration().Milliseconds(),
		"latency_ms", time.Since(started).Milliseconds(),
		"chars", len(text),
	)
	return Result{Text: text, Outcome: OutcomeText}
}

// Samples converts little-endian int16 PCM into float32 samples in [-1, 1].
func Samples(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// PCM converts float32 samples back to little-endian int16, clamping to the
// representable range.
func PCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		scaled := float64(sample) * 32768.0
		switch {
		case scaled > 32767:
			scaled = 32767
		case scaled < -32768:
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(scaled)))
	}
	return out
}
