// Command livecap captures microphone audio, cuts it into utterances and
// streams their transcripts to WebSocket observers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/livecap/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	os.Exit(app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
