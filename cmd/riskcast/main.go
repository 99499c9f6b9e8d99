// Command riskcast runs the RiskCast HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/riskcast/riskcast"
)

func main() {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := riskcast.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "riskcast: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "riskcast: %v\n", err)
		os.Exit(1)
	}
}
