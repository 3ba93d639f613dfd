package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-client/internal/config"
	"github.com/example/ride-client/internal/ingest"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total ride event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	storeWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_writes_total",
		Help: "Total ride events persisted",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total ride events that could not be persisted",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, storeWrites, storeErrors)
}

const statusTTL = 24 * time.Hour

func main() {
	cfg, err := config.LoadConsumerConfig()
	logger := logging.NewLogger("ride-consumer", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.TripStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, ride events are kept in memory only")
	}

	var status StatusUpdater
	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		status = &redisAdapter{c: rc}
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "store not ready", 503)
				return
			}
			if rc != nil {
				if err := rc.Ping(r.Context()).Err(); err != nil {
					http.Error(w, "redis not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	c := &consumer{
		source:   r,
		store:    store,
		status:   status,
		logger:   logger,
		attempts: cfg.MaxRetries,
		delay:    cfg.RetryDelay,
	}
	c.run(ctx)
	logger.Info("shutting down consumer")
}

// messageSource is the part of kafka.Reader the consumer loop uses.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StatusUpdater keeps a short-lived "ride:status:<id>" hash for dashboards.
type StatusUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func (r *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

type consumer struct {
	source   messageSource
	store    storage.TripStore
	status   StatusUpdater
	logger   *slog.Logger
	attempts int
	delay    time.Duration
}

func (c *consumer) run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		c.handle(ctx, m)
		if err := c.source.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func (c *consumer) handle(ctx context.Context, m kafka.Message) {
	msgsConsumed.Inc()

	ev, err := ingest.DecodeRideEvent(m)
	if err != nil {
		msgsInvalid.Inc()
		c.logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return
	}

	if err := saveWithRetry(ctx, c.store, ev, c.attempts, c.delay); err != nil {
		storeErrors.Inc()
		c.logger.Error("store update failed", "ride_id", ev.RideID, "to", ev.To, "error", err)
		return
	}
	storeWrites.Inc()
	if !ev.At.IsZero() {
		observability.JournalLag.Observe(time.Since(ev.At).Seconds())
	}

	if c.status != nil {
		if err := updateStatus(ctx, c.status, ev); err != nil {
			c.logger.Warn("ride status update failed", "ride_id", ev.RideID, "error", err)
		}
	}
}

// saveWithRetry applies ev to the store with retry/backoff.
func saveWithRetry(ctx context.Context, store storage.TripStore, ev models.RideEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.Apply(ctx, ev); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrInvalidEvent) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func updateStatus(ctx context.Context, su StatusUpdater, ev models.RideEvent) error {
	key := "ride:status:" + ev.RideID
	values := map[string]interface{}{
		"status":     ev.To,
		"updated_at": ev.At.Format(time.RFC3339),
	}
	if ev.DriverID != "" {
		values["driver_id"] = ev.DriverID
	}
	if err := su.HSet(ctx, key, values); err != nil {
		return err
	}
	return su.Expire(ctx, key, statusTTL)
}
