package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from .env and the environment.
type Config struct {
	AppEnv   string
	RunLocal bool
	HTTPAddr string

	AWSRegion   string
	AWSEndpoint string

	OrdersTable      string
	UserOrdersTable  string
	SellerIndexName  string
	FoodItemsTable   string
	StallsTable      string
	IdempotencyTable string
	LiveTable        string

	TimeoutQueueURL string

	SellerResponseWindow time.Duration
	FoodieResponseWindow time.Duration
	LiveRecordTTL        time.Duration
	IdempotencyTTL       time.Duration

	RabbitMQURL  string
	LiveExchange string

	JWTSecret string

	RateLimitRPS   float64
	RateLimitBurst int

	MetricsNamespace string
}

const (
	defaultHTTPAddr       = ":8080"
	defaultResponseWindow = 60 * time.Second
	defaultLiveRecordTTL  = 24 * time.Hour
	defaultIdempotencyTTL = 48 * time.Hour
	defaultLiveExchange   = "orders.live"
	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 20
)

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.LookupEnv)
}

type envLookup func(string) (string, bool)

func load(lookup envLookup) (*Config, error) {
	cfg := &Config{
		AppEnv:   getString(lookup, "APP_ENV", "development"),
		RunLocal: getBool(lookup, "RUN_LOCAL", false),
		HTTPAddr: getString(lookup, "HTTP_ADDR", defaultHTTPAddr),

		AWSRegion:   getString(lookup, "AWS_REGION", ""),
		AWSEndpoint: getString(lookup, "AWS_ENDPOINT_OVERRIDE", ""),

		OrdersTable:      getString(lookup, "ORDERS_TABLE", "orders"),
		UserOrdersTable:  getString(lookup, "USER_ORDERS_TABLE", "user_orders"),
		SellerIndexName:  getString(lookup, "ORDERS_SELLER_INDEX", "seller_id-order_id-index"),
		FoodItemsTable:   getString(lookup, "FOOD_ITEMS_TABLE", "food_items"),
		StallsTable:      getString(lookup, "STALLS_TABLE", "stalls"),
		IdempotencyTable: getString(lookup, "IDEMPOTENCY_TABLE", "idempotency"),
		LiveTable:        getString(lookup, "LIVE_TABLE", ""),

		TimeoutQueueURL: getString(lookup, "TIMEOUT_QUEUE_URL", ""),

		SellerResponseWindow: getDuration(lookup, "SELLER_RESPONSE_WINDOW", defaultResponseWindow),
		FoodieResponseWindow: getDuration(lookup, "FOODIE_RESPONSE_WINDOW", defaultResponseWindow),
		LiveRecordTTL:        getDuration(lookup, "LIVE_RECORD_TTL", defaultLiveRecordTTL),
		IdempotencyTTL:       getDuration(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),

		RabbitMQURL:  getString(lookup, "RABBITMQ_URL", ""),
		LiveExchange: getString(lookup, "LIVE_EXCHANGE", defaultLiveExchange),

		JWTSecret: getString(lookup, "JWT_SECRET", ""),

		RateLimitRPS:   getFloat(lookup, "RATE_LIMIT_RPS", defaultRateLimitRPS),
		RateLimitBurst: getInt(lookup, "RATE_LIMIT_BURST", defaultRateLimitBurst),

		MetricsNamespace: getString(lookup, "METRICS_NAMESPACE", ""),
	}

	if cfg.SellerResponseWindow <= 0 {
		cfg.SellerResponseWindow = defaultResponseWindow
	}
	if cfg.FoodieResponseWindow <= 0 {
		cfg.FoodieResponseWindow = defaultResponseWindow
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}

	return cfg, nil
}

// ValidateAPI checks what only the HTTP API needs; the timeout worker never
// verifies tokens. When timeouts go through the queue and no local timers run,
// the worker applies them, so live records must live in the shared table.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be provided")
	}
	if c.TimeoutQueueURL != "" && !c.RunLocal && c.LiveTable == "" {
		return fmt.Errorf("LIVE_TABLE must be provided when TIMEOUT_QUEUE_URL is set")
	}
	return nil
}

// ValidateWorker checks what the timeout worker needs. Its transitions must reach
// the same live records the API serves.
func (c *Config) ValidateWorker() error {
	if c.TimeoutQueueURL == "" {
		return fmt.Errorf("TIMEOUT_QUEUE_URL must be provided")
	}
	if c.LiveTable == "" {
		return fmt.Errorf("LIVE_TABLE must be provided")
	}
	return nil
}

func getString(lookup envLookup, key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func getBool(lookup envLookup, key string, def bool) bool {
	if v, ok := lookup(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getInt(lookup envLookup, key string, def int) int {
	if v, ok := lookup(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(lookup envLookup, key string, def float64) float64 {
	if v, ok := lookup(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(lookup envLookup, key string, def time.Duration) time.Duration {
	if v, ok := lookup(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
