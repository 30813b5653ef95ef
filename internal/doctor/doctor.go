// Package doctor runs readiness diagnostics for config, audio input, the
// recognition backend and the listen address.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rbright/livecap/internal/audio"
	"github.com/rbright/livecap/internal/config"
	"github.com/rbright/livecap/internal/ipc"
	"github.com/rbright/livecap/internal/recognizer"
)

const checkTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Overridable in tests.
var (
	selectDevice = audio.SelectDevice
	newEngine    = recognizer.New
)

// Run executes config, audio, recognizer and listener checks.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkAudioSource(ctx, cfg.Audio))
	checks = append(checks, checkRecognizer(ctx, cfg.Recognizer))
	checks = append(checks, checkListen(ctx, cfg.Server))
	if cfg.Server.StaticDir != "" {
		checks = append(checks, checkDir("server.static_dir", cfg.Server.StaticDir))
	}
	if cfg.Server.Socket == "" {
		checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "control socket directory is set", "XDG_RUNTIME_DIR is empty; set server.socket"))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("no file at %q; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message += fmt.Sprintf(" (%d warnings)", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkDir(name, path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a directory", path)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("serving %s", path)}
}

// checkAudioSource resolves the configured input without opening a stream.
func checkAudioSource(ctx context.Context, cfg config.AudioConfig) Check {
	const name = "audio.source"
	switch cfg.Source {
	case config.SourceFile:
		info, err := os.Stat(cfg.File)
		if err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("file %s (%d bytes)", cfg.File, info.Size())}
	case config.SourceStdin:
		return Check{Name: name, Pass: true, Message: "reads PCM from stdin"}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	selection, err := selectDevice(ctx, cfg.Device, cfg.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecognizer probes the configured backend's health endpoint.
func checkRecognizer(ctx context.Context, cfg config.RecognizerConfig) Check {
	name := "recognizer." + cfg.Backend
	engine, err := newEngine(cfg.Engine())
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := engine.Health(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	target := cfg.Endpoint
	if target == "" {
		target = "default endpoint"
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("ready at %s", target)}
}

// checkListen verifies the listen address is free or held by a running server.
func checkListen(ctx context.Context, cfg config.ServerConfig) Check {
	const name = "server.listen"
	listener, err := net.Listen("tcp", cfg.Listen)
	if err == nil {
		_ = listener.Close()
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is available", cfg.Listen)}
	}

	socketPath, pathErr := ipc.ResolveSocketPath(cfg.Socket)
	if pathErr == nil {
		alive, _ := ipc.Probe(ctx, socketPath, 500*time.Millisecond)
		if alive {
			return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is served by a running livecap", cfg.Listen)}
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		err = opErr.Err
	}
	return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Listen, err)}
}
