package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/livecap/internal/audio"
	"github.com/rbright/livecap/internal/broadcast"
	"github.com/rbright/livecap/internal/config"
	"github.com/rbright/livecap/internal/discovery"
	"github.com/rbright/livecap/internal/ipc"
	"github.com/rbright/livecap/internal/metrics"
	"github.com/rbright/livecap/internal/recognizer"
	"github.com/rbright/livecap/internal/segment"
	"github.com/rbright/livecap/internal/server"
	"github.com/rbright/livecap/internal/session"
	"github.com/rbright/livecap/internal/transcript"
)

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.Server.Socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	control, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: 180 * time.Millisecond, Retries: 8})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = control.Close()
		_ = os.Remove(socketPath)
	}()

	listener, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", cfg.Server.Listen, err)
		return 1
	}

	svc, err := newService(cfg, logger, nil)
	if err != nil {
		_ = listener.Close()
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logger.Info("serve start", "listen", listener.Addr().String(), "socket", socketPath)
	if err := svc.run(ctx, listener, control); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	logger.Info("serve stop")
	return 0
}

// service owns every long-lived component of a running server.
type service struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	hub        *broadcast.Broadcaster
	engine     recognizer.Engine
	controller *session.Controller
	http       *server.Server
	dumper     *audioDumper
}

// newService wires the pipeline. A nil source selects one from cfg.Audio.
func newService(cfg config.Config, logger *slog.Logger, source audio.Source) (*service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		var err error
		source, err = newSource(cfg.Audio, logger)
		if err != nil {
			return nil, err
		}
	}

	engine, err := recognizer.New(cfg.Recognizer.Engine())
	if err != nil {
		return nil, fmt.Errorf("init recognizer: %w", err)
	}

	m := metrics.New()
	adapter := recognizer.NewAdapter(engine, recognizer.AdapterConfig{
		Options:   cfg.RecognitionOptions(),
		Timeout:   cfg.Recognizer.Timeout(),
		Normalize: transcript.Normalizer(transcript.Options{CapitalizeSentences: cfg.Transcript.CapitalizeSentences}),
		Logger:    logger,
		Metrics:   m,
	})

	var controller *session.Controller
	hub := broadcast.New(broadcast.Options{
		QueueSize: cfg.Broadcast.QueueSize,
		Logger:    logger,
		Metrics:   m,
		Welcome:   func(clients int) any { return controller.Welcome(clients) },
	})

	var (
		onUtterance func(segment.Utterance)
		dumper      *audioDumper
	)
	if cfg.Debug.EnableAudioDump {
		dir, err := dumpDir(cfg.Debug.DumpDir)
		if err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("resolve debug dump dir: %w", err)
		}
		dumper = newAudioDumper(dir, logger)
		onUtterance = dumper.Enqueue
	}

	controller = session.NewController(session.Options{
		Source:      source,
		Segmenter:   cfg.Segmenter(),
		Recognizer:  adapter,
		Publisher:   hub,
		Logger:      logger,
		Metrics:     m,
		OnUtterance: onUtterance,
	})

	httpServer := server.New(server.Options{
		WSPath:       cfg.Server.WSPath,
		StaticDir:    cfg.Server.StaticDir,
		WriteTimeout: cfg.Broadcast.WriteTimeout(),
		Controller:   controller,
		Hub:          hub,
		Metrics:      m,
		Logger:       logger,
	})

	return &service{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		hub:        hub,
		engine:     engine,
		controller: controller,
		http:       httpServer,
		dumper:     dumper,
	}, nil
}

func newSource(cfg config.AudioConfig, logger *slog.Logger) (audio.Source, error) {
	switch cfg.Source {
	case config.SourcePulse:
		return &audio.PulseSource{
			Device:   cfg.Device,
			Fallback: cfg.Fallback,
			Format:   cfg.Format(),
			Logger:   logger,
		}, nil
	case config.SourceFile:
		return audio.NewFileSource(cfg.File, cfg.Format(), cfg.Realtime), nil
	case config.SourceStdin:
		return audio.NewStdinSource(cfg.Format(), cfg.Realtime), nil
	default:
		return nil, fmt.Errorf("unsupported audio source %q", cfg.Source)
	}
}

// run blocks until ctx ends or a component fails. control may be nil.
func (s *service) run(ctx context.Context, listener net.Listener, control net.Listener) error {
	defer func() {
		s.hub.Close()
		if err := s.engine.Close(); err != nil {
			s.logger.Warn("close recognizer", "error", err.Error())
		}
	}()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.controller.Run(gctx)
	})
	group.Go(func() error {
		if err := s.http.Serve(gctx, listener, s.cfg.Server.ShutdownTimeout()); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if control != nil {
		group.Go(func() error {
			ipcServer := &ipc.Server{Handler: s.controller, Logger: s.logger}
			if err := ipcServer.Serve(gctx, control); err != nil {
				return fmt.Errorf("ipc server: %w", err)
			}
			return nil
		})
	}
	if s.dumper != nil {
		group.Go(func() error {
			s.dumper.run(gctx)
			return nil
		})
	}
	if s.cfg.Server.MDNS {
		group.Go(func() error {
			s.advertise(gctx, listener.Addr())
			return nil
		})
	}
	if s.cfg.Server.AutoStart {
		group.Go(func() error {
			s.autoStart(gctx)
			return nil
		})
	}

	return group.Wait()
}

func (s *service) advertise(ctx context.Context, addr net.Addr) {
	_, portText, err := net.SplitHostPort(addr.String())
	if err != nil {
		s.logger.Warn("mdns disabled", "error", err.Error())
		return
	}
	port, _ := strconv.Atoi(portText)
	err = discovery.Advertise(ctx, discovery.Config{
		Port:   port,
		WSPath: s.cfg.Server.WSPath,
		Logger: s.logger,
	})
	if err != nil {
		s.logger.Warn("mdns advertisement failed", "error", err.Error())
	}
}

func (s *service) autoStart(ctx context.Context) {
	timer := time.NewTimer(s.cfg.Server.AutoStartDelay())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	err := s.controller.Start(ctx)
	switch {
	case err == nil:
		s.logger.Info("auto-start complete")
	case errors.Is(err, session.ErrAlreadyActive), ctx.Err() != nil:
		// started by a client first, or shutting down
	default:
		s.logger.Warn("auto-start failed", "error", err.Error())
	}
}
