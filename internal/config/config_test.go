package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "POSTGRES_DSN", "REDIS_ADDR", "KAFKA_BROKERS", "PAYMENT_TIMEOUT_MIN", "SWEEP_INTERVAL", "ORDER_ID_MIN_VALUE", "ADMIN_IDS", "TX_RETRIES"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Empty(t, cfg.PostgresDSN)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Zero(t, cfg.OrderIDMinValue)
	assert.Equal(t, 3, cfg.TxRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("PAYMENT_TIMEOUT_MIN", "5")
	t.Setenv("SWEEP_INTERVAL", "10")
	t.Setenv("ORDER_ID_MIN_VALUE", "1000")
	t.Setenv("ADMIN_IDS", "42, x, 7")
	t.Setenv("TX_RETRIES", "5")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, int64(1000), cfg.OrderIDMinValue)
	assert.Equal(t, 5, cfg.TxRetries)
	assert.True(t, cfg.IsAdmin(7))
	assert.False(t, cfg.IsAdmin(8))
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT_MIN", "soon")
	t.Setenv("SWEEP_INTERVAL", "often")

	cfg := Load()
	assert.Equal(t, 15*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestValidate(t *testing.T) {
	cfg := Config{PaymentTimeout: 0, SweepInterval: -time.Second, NotifyWorkers: 1, TxRetries: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_TIMEOUT_MIN")
	assert.Contains(t, err.Error(), "TX_RETRIES")
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}
