package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamfeed/server/internal/app"
	"github.com/streamfeed/server/internal/config"
	"github.com/streamfeed/server/internal/logging"
)

func main() {
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		logging.New(logging.LevelError).Error("Failed to initialize", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		application.Logger.Info("Shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = application.Shutdown(shutdownCtx)
	}()

	if err := application.Run(ctx); err != nil {
		application.Logger.Error("Server error", logging.WithField("error", err.Error()))
		os.Exit(1)
	}
}
