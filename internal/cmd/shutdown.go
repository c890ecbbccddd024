package cmd

import (
	"context"

	"github.com/3leaps/blaulicht/pkg/shutdown"
)

// shutdownContext wires a context to OS signals via pkg/shutdown so every
// command's underlying orchestrator/loop stops gracefully after the
// current chunk/cycle (spec §4.8/§4.9 "graceful stop").
func shutdownContext() (context.Context, context.CancelFunc) {
	token := shutdown.New()
	stop := token.WatchSignals()
	ctx, cancel := token.WithContext(context.Background())
	return ctx, func() {
		stop()
		cancel()
	}
}
