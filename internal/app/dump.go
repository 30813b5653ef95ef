package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/rbright/livecap/internal/audio"
	"github.com/rbright/livecap/internal/logging"
	"github.com/rbright/livecap/internal/segment"
)

const dumpQueueSize = 16

func dumpDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	state, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "debug"), nil
}

// audioDumper writes utterances to dir as mono WAV files from its own
// goroutine. Enqueue is called on the capture loop.
type audioDumper struct {
	dir    string
	logger *slog.Logger
	queue  chan segment.Utterance
}

func newAudioDumper(dir string, logger *slog.Logger) *audioDumper {
	return &audioDumper{
		dir:    dir,
		logger: logger,
		queue:  make(chan segment.Utterance, dumpQueueSize),
	}
}

// Enqueue hands u to the writer. It never blocks; a full queue drops u.
func (d *audioDumper) Enqueue(u segment.Utterance) {
	select {
	case d.queue <- u:
	default:
		d.logger.Warn("debug audio dump dropped", "reason", "queue full")
	}
}

// run writes queued utterances until ctx ends, then drains what is left.
func (d *audioDumper) run(ctx context.Context) {
	for {
		select {
		case u := <-d.queue:
			d.write(u)
		case <-ctx.Done():
			for {
				select {
				case u := <-d.queue:
					d.write(u)
				default:
					return
				}
			}
		}
	}
}

func (d *audioDumper) write(u segment.Utterance) {
	name := fmt.Sprintf("utterance-%s.wav", u.StartedAt.UTC().Format("20060102T150405.000Z"))
	path := filepath.Join(d.dir, name)
	if err := audio.WriteWAVFile(path, u.PCM(), u.SampleRate, 1); err != nil {
		d.logger.Warn("debug audio dump failed", "path", path, "error", err.Error())
		return
	}
	d.logger.Debug("debug audio dumped", "path", path, "duration_ms", u.Duration().Milliseconds())
}
