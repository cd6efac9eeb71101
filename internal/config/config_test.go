package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Messaging.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)

	p, err := cfg.Pricing.Parse()
	require.NoError(t, err)
	assert.Equal(t, "INR", p.Currency)
	assert.True(t, p.TaxRate.IsZero())
	assert.True(t, decimal.NewFromInt(999).Equal(p.FreeShippingThreshold))
	assert.True(t, decimal.NewFromInt(50).Equal(p.FlatShippingFee))
	assert.Equal(t, 30*24*time.Hour, p.ReturnWindow)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TAX_RATE", "0.18")
	t.Setenv("GATEWAY_KEY_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Messaging.Brokers)
	assert.Equal(t, "secret", cfg.Gateway.WebhookSecret)

	p, err := cfg.Pricing.Parse()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.18").Equal(p.TaxRate))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
messaging:
  transport: gochannel
pricing:
  currency: usd
  return_window_days: 14
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "gochannel", cfg.Messaging.Transport)

	p, err := cfg.Pricing.Parse()
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, 14*24*time.Hour, p.ReturnWindow)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := Load("")
	assert.Error(t, err)
}

func TestPricingParseRejectsGarbage(t *testing.T) {
	_, err := PricingConfig{TaxRate: "abc", FreeShippingThreshold: "1", FlatShippingFee: "1", ReturnWindowDays: 1}.Parse()
	assert.Error(t, err)
}
