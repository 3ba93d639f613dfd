package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/config"
	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/eta"
	httpapi "github.com/example/ride-client/internal/http"
	"github.com/example/ride-client/internal/ingest"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/payments"
	"github.com/example/ride-client/internal/ride"
	"github.com/example/ride-client/internal/suggest"
)

func main() {
	cfg, err := config.LoadClientConfig()
	logger := logging.NewLogger("ride-client", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := &eta.CachedRouter{
		Next:  eta.NewOSRMClient(cfg.OSRMURL, cfg.RouteTimeout),
		Cache: eta.NewCache(cfg.RouteCacheTTL),
	}

	var cache suggest.Cache = suggest.NewMemoryCache(cfg.SuggestCacheTTL)
	if cfg.RedisAddr != "" {
		rc := suggest.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.SuggestCacheTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-process suggestion cache", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	be := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	hub := dispatch.NewHub(logger)

	deps := ride.Deps{
		Backend:   be,
		Router:    router,
		Suggester: suggest.NewClient(cfg.BackendURL, cfg.BackendTimeout, cache),
		Surface:   hub.Surface(),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		deps.Journal = kp
	} else {
		logger.Info("KAFKA_BROKERS not set, ride journal disabled")
	}
	if cfg.StripeAPIKey != "" {
		deps.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	ctrl := ride.NewController(deps, ride.Options{
		TickInterval: cfg.TickInterval,
		Debounce:     cfg.SuggestDebounce,
		Currency:     cfg.Currency,
		Logger:       logger,
	})
	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go hub.Pump(ctx, snaps)
	hub.PublishSnapshot(ctrl.Snapshot())

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ride controller stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.WithCORS(httpapi.NewServer(ctrl, be, hub, logger), cfg.CORSOrigins),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-client listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendURL, "osrm", cfg.OSRMURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	ctrl.Close()
	<-runDone
}
