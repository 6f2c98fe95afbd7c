package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/personalize"
	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/ratelimit"
	"github.com/ignite/campaign-engine/internal/registry"
	"github.com/ignite/campaign-engine/internal/transport"
)

const shutdownDrain = 30 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	httputil.SetDevelopmentMode(cfg.Server.Environment == "development")

	limiter := newRateLimiter(cfg.RateLimit.RedisURL)

	cache := transport.New()
	personalizer := personalize.New()
	reg := registry.NewWithCap(cache, personalizer, cfg.Registry.MaxConcurrent)

	handlers := api.NewHandlers(reg, cache)
	server := api.NewServer(handlers, limiter)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		logger.Error("server error", "error", err.Error())
	case <-ctx.Done():
		logger.Info("shutdown signal received", "msg", "draining campaigns")
	}

	reg.Shutdown(shutdownDrain)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}

	if err := limiter.Close(); err != nil {
		logger.Warn("rate limiter close error", "error", err.Error())
	}

	logger.Info("server stopped", "msg", "ok")
}

// newRateLimiter connects to Redis when configured, falling back to the
// in-memory limiter (e.g. for single-process development) otherwise.
func newRateLimiter(redisURL string) *ratelimit.Limiter {
	if redisURL == "" {
		logger.Info("rate limiter", "backend", "in-memory")
		return ratelimit.NewInMemory()
	}
	l, err := ratelimit.New(redisURL)
	if err != nil {
		logger.Warn("rate limiter redis connect failed, falling back to in-memory", "error", err.Error())
		return ratelimit.NewInMemory()
	}
	logger.Info("rate limiter", "backend", "redis")
	return l
}
