package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) envLookup {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"JWT_SECRET": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "orders", cfg.OrdersTable)
	assert.Equal(t, "user_orders", cfg.UserOrdersTable)
	assert.Equal(t, 60*time.Second, cfg.SellerResponseWindow)
	assert.Equal(t, 60*time.Second, cfg.FoodieResponseWindow)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "orders.live", cfg.LiveExchange)
	assert.False(t, cfg.RunLocal)
	assert.Empty(t, cfg.TimeoutQueueURL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"JWT_SECRET":             "s3cret",
		"RUN_LOCAL":              "true",
		"ORDERS_TABLE":           "orders-prod",
		"SELLER_RESPONSE_WINDOW": "90s",
		"FOODIE_RESPONSE_WINDOW": "-5s",
		"RATE_LIMIT_RPS":         "2.5",
		"RATE_LIMIT_BURST":       "bad",
		"TIMEOUT_QUEUE_URL":      "https://sqs.local/q",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.RunLocal)
	assert.Equal(t, "orders-prod", cfg.OrdersTable)
	assert.Equal(t, 90*time.Second, cfg.SellerResponseWindow)
	assert.Equal(t, 60*time.Second, cfg.FoodieResponseWindow)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, "https://sqs.local/q", cfg.TimeoutQueueURL)
}

func TestValidate(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{}))
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateAPI())
	assert.Error(t, cfg.ValidateWorker())

	cfg.JWTSecret = "s3cret"
	assert.NoError(t, cfg.ValidateAPI(), "in-process timers and hub need nothing else")

	cfg.LiveTable = "live_orders"
	cfg.TimeoutQueueURL = "https://sqs.local/q"
	assert.NoError(t, cfg.ValidateAPI())
	assert.NoError(t, cfg.ValidateWorker())
}

func TestValidate_QueueNeedsSharedLiveTable(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"JWT_SECRET":        "s3cret",
		"TIMEOUT_QUEUE_URL": "https://sqs.local/q",
	}))
	require.NoError(t, err)

	err = cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVE_TABLE")

	err = cfg.ValidateAPI()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVE_TABLE")

	cfg.RunLocal = true
	assert.NoError(t, cfg.ValidateAPI(), "local timers expire orders in this process")
}
