package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"learnhub-chat/internal/config"
	"learnhub-chat/internal/devserver"
	"learnhub-chat/pkg/logger"
)

func main() {
	cfg := config.Load()

	logger.InitDefault()
	defer logger.Sync()

	srv := devserver.New()

	server := &http.Server{
		Addr:    cfg.DevServerAddr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("chat development backend starting",
			zap.String("addr", cfg.DevServerAddr),
			zap.String("ws_endpoint", "/ws"),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
