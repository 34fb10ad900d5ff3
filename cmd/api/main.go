package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/placehub/internal/cache"
	"github.com/geocoder89/placehub/internal/config"
	"github.com/geocoder89/placehub/internal/db"
	httpx "github.com/geocoder89/placehub/internal/http"
	"github.com/geocoder89/placehub/internal/observability"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	// tracing is optional; without an endpoint spans stay local
	shutdownTracer, err := observability.InitTracer(context.Background(), "placehub", cfg.OTLPEndpoint)

	if err != nil {
		log.Warn("tracer init failed, continuing without export", "err", err)
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	ctx, cancel := config.WithTimeout(10 * time.Second)

	err = db.EnsureSchema(ctx, pool)

	if err != nil {
		cancel()
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	err = db.EnsureAdminUser(ctx, pool, cfg)

	cancel()

	if err != nil {
		log.Error("admin seed failed", "err", err)
		os.Exit(1)
	}

	// redis backs the geocode cache; the API runs without it
	var rdb *redis.Client

	if cfg.RedisAddr != "" {
		rdb = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, pingCancel := config.WithTimeout(2 * time.Second)

		if err := cache.PingRedis(pingCtx, rdb); err != nil {
			log.Warn("redis unreachable, geocode cache falls back to memory", "err", err)
			rdb = nil
		}

		pingCancel()
	}

	// set up routers with the log
	router := httpx.NewRouter(log, pool, rdb, cfg)

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// start server using a concurrent go-routine driven anonymous function.

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(ctx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return
		}

		if shutdownTracer != nil {
			_ = shutdownTracer(ctx)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
