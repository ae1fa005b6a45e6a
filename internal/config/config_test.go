package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "CURRENCY_PLACES", "CATALOG_WORKERS", "REQUEST_TIMEOUT", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int32(2), cfg.CurrencyPlaces)
	assert.Equal(t, 4, cfg.CatalogWorkers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CURRENCY_PLACES", "3")
	t.Setenv("CATALOG_WORKERS", "16")
	t.Setenv("REQUEST_TIMEOUT", "750ms")

	cfg := Load()
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int32(3), cfg.CurrencyPlaces)
	assert.Equal(t, 16, cfg.CatalogWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
}

func TestLoadCurrencyPlacesRange(t *testing.T) {
	cases := map[string]int32{"0": 0, "8": 8, "9": 2, "-1": 2}
	for v, want := range cases {
		t.Setenv("CURRENCY_PLACES", v)
		assert.Equal(t, want, Load().CurrencyPlaces, v)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CURRENCY_PLACES", "two")
	t.Setenv("CATALOG_WORKERS", "-3")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, int32(2), cfg.CurrencyPlaces)
	assert.Equal(t, 4, cfg.CatalogWorkers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}
