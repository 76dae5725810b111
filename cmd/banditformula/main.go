// Command banditformula discovers index formulas for multi-armed bandit
// policies: it enumerates and deduplicates candidate formulas, evaluates
// them on sampled bandit problems, allocates evaluations with a formula
// pool, searches formula space and tunes learnable constants.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
