package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig captures all tunable parameters for the rider client process.
// Values are loaded from environment variables (optionally seeded from a
// .env file) with defaults that point at the public routing service.
type ClientConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	BackendURL     string
	BackendTimeout time.Duration
	OSRMURL        string
	RouteTimeout   time.Duration

	SuggestDebounce time.Duration
	SuggestCacheTTL time.Duration
	RouteCacheTTL   time.Duration
	TickInterval    time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	StripeAPIKey string
	Currency     string

	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		BackendURL:      "http://localhost:3000",
		BackendTimeout:  10 * time.Second,
		OSRMURL:         "https://routing.openstreetmap.de/routed-car",
		RouteTimeout:    30 * time.Second,
		SuggestDebounce: 300 * time.Millisecond,
		SuggestCacheTTL: 10 * time.Minute,
		RouteCacheTTL:   5 * time.Minute,
		TickInterval:    time.Second,
		KafkaTopic:      "ride-events",
		Currency:        "vnd",
		LogLevel:        "info",
	}
}

// LoadClientConfig reads the rider client configuration. A .env file in the
// working directory is applied first; real environment variables win.
func LoadClientConfig() (ClientConfig, error) {
	loadDotEnv()
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setDurationFromEnv(&cfg.RouteTimeout, "ROUTE_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.SuggestDebounce, "SUGGEST_DEBOUNCE", &errs)
	setDurationFromEnv(&cfg.SuggestCacheTTL, "SUGGEST_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.TickInterval, "TICK_INTERVAL", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	setStringFromEnv(&cfg.Currency, "PAYMENT_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if strings.TrimSpace(cfg.BackendURL) == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be set"))
	}
	if cfg.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must be > 0"))
	}
	if cfg.SuggestDebounce < 0 {
		errs = append(errs, fmt.Errorf("SUGGEST_DEBOUNCE must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the ride-event journal consumer.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN         string
	RunMigrations bool

	// RedisAddr enables the live ride-status hash.
	RedisAddr     string
	RedisPassword string

	MetricsAddr string
	MaxRetries  int
	RetryDelay  time.Duration

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	loadDotEnv()
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "ride-journal",
		MetricsAddr:  ":9102",
		MaxRetries:   3,
		RetryDelay:   200 * time.Millisecond,
		LogLevel:     "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.MaxRetries, "CONSUMER_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "CONSUMER_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}
	if cfg.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("CONSUMER_MAX_RETRIES must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// loadDotEnv applies .env when present. A missing file is not an error.
func loadDotEnv() {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
