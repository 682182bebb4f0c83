package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/apiserver"
	"github.com/dealflow/dealflow/pkg/config"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/store/postgres"
	redisclient "github.com/dealflow/dealflow/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	redis, err := redisclient.NewClient(ctx, &cfg.Redis)
	cancel()
	if err != nil {
		// Live events and the shared rate limit store need redis; the API
		// itself does not.
		logger.Warn("redis unavailable, continuing without live events", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	server, err := apiserver.NewServer(db, redis, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build api server", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting api server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
