package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomledger/internal/ratelimit"
	"roomledger/internal/util"
	"roomledger/services/archive/internal/app"
	"roomledger/services/archive/internal/config"
	"roomledger/services/archive/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		File:   cfg,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := appCore.Start(ctx); err != nil {
		log.Fatalf("failed to start app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.IngestRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"roomledger:ingest", cfg.IngestRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{App: appCore, Limiter: limiter})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(util.WithRequestLog("archive", util.WithSecurityHeaders(httpServer.Router()))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("archive server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	appCore.Stop()
}
