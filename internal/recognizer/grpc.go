package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultGRPCMethod  = "/livecap.asr.v1.Recognizer/Infer"
	defaultDialTimeout = 3 * time.Second
)

// GRPCConfig addresses a recognizer service that speaks structpb over a
// unary method.
type GRPCConfig struct {
	Endpoint    string
	Method      string
	Service     string
	DialTimeout time.Duration
	DialOptions []grpc.DialOption
}

// GRPCEngine sends {samples, sample_rate, language, task, model} and reads
// {text} as google.protobuf.Struct messages.
type GRPCEngine struct {
	cfg  GRPCConfig
	conn *grpc.ClientConn

	closeOnce sync.Once
}

// NewGRPCEngine creates a lazily connecting client.
func NewGRPCEngine(cfg GRPCConfig) (*GRPCEngine, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("grpc endpoint is empty")
	}
	if strings.TrimSpace(cfg.Method) == "" {
		cfg.Method = DefaultGRPCMethod
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer grpc %q: %w", cfg.Endpoint, err)
	}
	return &GRPCEngine{cfg: cfg, conn: conn}, nil
}

func (e *GRPCEngine) Name() string {
	return "grpc"
}

func (e *GRPCEngine) Infer(ctx context.Context, samples []float32, opts Options) (string, error) {
	if err := e.ready(ctx); err != nil {
		return "", err
	}

	resp := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, e.cfg.Method, inferRequest(samples, opts), resp); err != nil {
		return "", fmt.Errorf("invoke %s: %w", e.cfg.Method, err)
	}

	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", errors.New("recognizer response has no text field")
	}
	return text.GetStringValue(), nil
}

// Health runs the standard gRPC health check.
func (e *GRPCEngine) Health(ctx context.Context) error {
	if err := e.ready(ctx); err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(e.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: e.cfg.Service})
	if err != nil {
		return fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: grpc health status %s", ErrEngineUnavailable, resp.GetStatus())
	}
	return nil
}

func (e *GRPCEngine) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.conn.Close() })
	return err
}

func (e *GRPCEngine) ready(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()
	e.conn.Connect()
	if err := waitForReady(readyCtx, e.conn); err != nil {
		return fmt.Errorf("%w: wait for grpc readiness: %v", ErrEngineUnavailable, err)
	}
	return nil
}

func inferRequest(samples []float32, opts Options) *structpb.Struct {
	values := make([]*structpb.Value, len(samples))
	for i, sample := range samples {
		values[i] = structpb.NewNumberValue(float64(sample))
	}
	fields := map[string]*structpb.Value{
		"samples":     structpb.NewListValue(&structpb.ListValue{Values: values}),
		"sample_rate": structpb.NewNumberValue(float64(opts.SampleRate)),
	}
	if opts.Language != "" {
		fields["language"] = structpb.NewStringValue(opts.Language)
	}
	if opts.Task != "" {
		fields["task"] = structpb.NewStringValue(opts.Task)
	}
	if opts.Model != "" {
		fields["model"] = structpb.NewStringValue(opts.Model)
	}
	return &structpb.Struct{Fields: fields}
}

// waitForReady blocks until the connection is Ready or ctx ends.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection is shut down")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state)
		}
	}
}
