// Package logging builds the structured runtime logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Output targets understood by Options.Output. Any other value is a file path.
const (
	OutputStderr = "stderr"
	OutputStdout = "stdout"
	OutputFile   = "file"
)

// Options selects level, format and sink.
type Options struct {
	Level  string
	Format string
	Output string
}

// Runtime bundles the configured logger and its open sink.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close closes the output file, if any.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New builds a JSON (or text) logger for opts.
func New(opts Options) (Runtime, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return Runtime{}, err
	}

	var (
		w      io.Writer
		path   string
		closer io.Closer
	)
	switch output := strings.TrimSpace(opts.Output); output {
	case "", OutputStderr:
		w = os.Stderr
	case OutputStdout:
		w = os.Stdout
	default:
		path = output
		if output == OutputFile {
			path, err = resolveLogPath()
			if err != nil {
				return Runtime{}, err
			}
		}
		f, err := openLogFile(path)
		if err != nil {
			return Runtime{}, err
		}
		w, closer = f, f
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return Runtime{}, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return Runtime{Logger: slog.New(handler), Path: path, closer: closer}, nil
}

// ParseLevel maps debug|info|warn|error to a slog level; empty means info.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
}

// StateDir is livecap's directory under XDG_STATE_HOME (or ~/.local/state).
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "livecap"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "livecap"), nil
}

func resolveLogPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "log.jsonl"), nil
}
