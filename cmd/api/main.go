package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tripopt/internal/api"
	"tripopt/internal/buildinfo"
	"tripopt/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		zap.NewExample().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	srvDeps, err := api.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init server", zap.Error(err))
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvDeps.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", addr), zap.String("version", buildinfo.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := srvDeps.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
