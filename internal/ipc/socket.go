package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketName is the control socket file name.
const SocketName = "livecap.sock"

// ErrAlreadyRunning means another server owns the control socket.
var ErrAlreadyRunning = errors.New("livecap server already running")

// RuntimeSocketPath resolves the control socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// ResolveSocketPath prefers an explicit path and falls back to the runtime dir.
func ResolveSocketPath(configured string) (string, error) {
	if path := strings.TrimSpace(configured); path != "" {
		return path, nil
	}
	return RuntimeSocketPath()
}

// AcquireOptions tunes stale socket recovery.
type AcquireOptions struct {
	// ProbeTimeout bounds the status probe sent to a previous owner.
	ProbeTimeout time.Duration
	// Retries is how many listen attempts follow the first failed one.
	Retries int
}

// Acquire listens on path so only one server runs per socket. A stale socket
// file left by a dead server is removed; a responsive owner yields
// ErrAlreadyRunning.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 200 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if err := reclaim(ctx, path, opts.ProbeTimeout); err != nil {
			return nil, err
		}
		if attempt >= opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: still in use after %d attempts", path, attempt+1)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

// reclaim removes path unless a live server still answers on it.
func reclaim(ctx context.Context, path string, probeTimeout time.Duration) error {
	alive, err := Probe(ctx, path, probeTimeout)
	if alive {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("probe existing socket %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
