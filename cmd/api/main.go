package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/aviflow/internal/api"
	"github.com/dunamismax/aviflow/internal/config"
	"github.com/dunamismax/aviflow/internal/convert"
	"github.com/dunamismax/aviflow/internal/ratelimit"
	"github.com/dunamismax/aviflow/internal/telemetry"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration error: %v", err)
	}

	if err := convert.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer convert.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), cfg.Trace, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	converter, err := convert.NewConverter(cfg.Convert)
	if err != nil {
		logger.Fatalf("converter setup failed: %v", err)
	}

	selfTestCtx, cancelSelfTest := context.WithTimeout(context.Background(), 30*time.Second)
	if err := converter.SelfTest(selfTestCtx); err != nil {
		cancelSelfTest()
		logger.Fatalf("startup self-test failed: %v", err)
	}
	cancelSelfTest()
	logger.Printf("avif encode self-test passed quality=%d speed=%d", cfg.Convert.Quality, cfg.Convert.Speed)

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		logger.Printf("rate limiting enabled capacity=%d window=%s redis=%s",
			cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.Redis.Addr)
	}

	app := api.NewServer(logger, converter, cfg.Convert, limiter)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s max_file_size=%d quality=%d",
			cfg.API.Addr, cfg.Convert.MaxFileSize, cfg.Convert.Quality)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
