// Package main provides the direct-message relay server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pro-subscriber/internal/api"
	"github.com/pro-subscriber/internal/circuitbreaker"
	"github.com/pro-subscriber/internal/config"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/storage"
)

func main() {
	fmt.Println("Pro Subscriber DC Relay")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if err := cfg.ValidateRelay(); err != nil {
		logger.WithError(err).Fatal("Invalid relay configuration")
	}

	var replay api.ReplayStore
	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		replay = redis
		logger.WithField("ttl", cfg.Redis.IdempotencyTTL.String()).Info("Idempotency replay cache on Redis")
	} else {
		replay = storage.NewMemoryCache(cfg.Redis.IdempotencyTTL)
		logger.Warn("REDIS_HOST not set, replay cache is process-local")
	}

	breakerCfg := circuitbreaker.DefaultConfig("warpcast")
	breaker := circuitbreaker.NewCircuitBreaker(breakerCfg)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Upstream.Timeout + 5*time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateBurst:       cfg.Server.RateBurst,
	}

	upstream := api.NewUpstreamClient(cfg.Upstream.URL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)
	server := api.NewServer(serverConfig, upstream, replay, breaker)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"upstream": cfg.Upstream.URL,
	}).Info("Relay started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Relay exited")
}
