package main

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"link-tracker/pkg/app"
	"link-tracker/pkg/config"
	"link-tracker/pkg/http"
	"link-tracker/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.LogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	r := http.NewRouter(logger, cfg.StorageTimeout)
	http.SetupRoutes(r, a.Handler())

	srv := &stdhttp.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if err := app.Serve(ctx, srv, logger); err != nil {
		logger.Error(ctx, "server error", "error", err)
	}
	logger.Info(context.Background(), "server stopped", "recorder", a.Recorder.Stats())
}
