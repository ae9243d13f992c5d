// Command giftlink runs the gift lifecycle API server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wowgifts/giftlink/internal/app/runtime"
)

func main() {
	// Local development convenience; missing files are fine.
	_ = godotenv.Load(".env", ".env.local")

	app, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("initialise: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
