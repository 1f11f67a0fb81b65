// cmd/baswatch/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cfavre/baswatch/cmd"
	"github.com/cfavre/baswatch/internal/observability"
)

func main() {
	// Interrupts cancel the context so an in-flight run can release its
	// browser before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
