package config

import (
	"testing"

	"tradeengine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	t.Setenv("TIMEZONE", "UTC")
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setenv(t, nil)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "BTC", cfg.Symbol)
	assert.Equal(t, []string{"1m", "5m", "15m", "30m", "1h"}, cfg.ResolutionNames())
	assert.Equal(t, model.Res1m, cfg.TradeRes())
	assert.True(t, cfg.Paper)
	assert.Equal(t, 365, cfg.PastPeriod)
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestLoad_Overrides(t *testing.T) {
	setenv(t, map[string]string{
		"SYMBOL":             "ETH",
		"RESOLUTIONS":        "5M, 1h,5m",
		"TRADE_RESOLUTION":   "1H",
		"KAFKA_BROKERS":      "k1:9092,k2:9092",
		"STOP_LIMIT_PERCENT": "0.9",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"5m", "1h"}, cfg.ResolutionNames())
	assert.Equal(t, model.Res1h, cfg.TradeRes())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 0.9, cfg.StopLimitPercent)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown resolution":       {"RESOLUTIONS": "1m,7m"},
		"trade resolution missing": {"RESOLUTIONS": "5m", "TRADE_RESOLUTION": "1m"},
		"unknown trade resolution": {"TRADE_RESOLUTION": "2h"},
		"bad timezone":             {"TIMEZONE": "Mars/Olympus"},
		"live without keys":        {"PAPER": "false"},
		"stop above one":           {"STOP_LIMIT_PERCENT": "1.5"},
		"telegram without chat":    {"TELEGRAM_BOT_TOKEN": "abc"},
		"bad past period":          {"PAST_PERIOD": "0"},
		"symbol with dash":         {"SYMBOL": "BTC-JPY"},
		"symbol with slash":        {"SYMBOL": "ETH/JPY"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setenv(t, kv)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_UnderscoreSymbol(t *testing.T) {
	setenv(t, map[string]string{"SYMBOL": "BTC_JPY"})
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "BTC_JPY", cfg.Symbol)
}

func TestLoad_LiveWithKeys(t *testing.T) {
	setenv(t, map[string]string{"PAPER": "false", "GMO_API_KEY": "k", "GMO_API_SECRET": "s"})
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Paper)
}
