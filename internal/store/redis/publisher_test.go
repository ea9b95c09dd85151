package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"tradeengine/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	key := model.SeriesKey{Symbol: "BTC", Resolution: "1m"}
	assert.Equal(t, "candles:BTC_1M", CandleStream(key))
	assert.Equal(t, "pub:candle:BTC_1M", CandleChannel(key))
	assert.Equal(t, "signals:BTC", SignalStream("BTC"))
}

func TestPublisher_BuffersWhileCircuitOpen(t *testing.T) {
	// nothing listens on port 1: every call fails fast
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	p := NewWithClient(client, Config{MaxFailures: 2, ResetTimeout: time.Hour, MaxBuffer: 2})
	defer p.Close()

	buffered := 0
	p.OnBuffer = func() { buffered++ }

	ctx := context.Background()
	c := model.Candle{Symbol: "BTC", Resolution: "1m", Close: 1}
	assert.Error(t, p.PublishCandle(ctx, c))
	assert.Error(t, p.PublishCandle(ctx, c))
	assert.Equal(t, StateOpen, p.Breaker().CurrentState())

	require.NoError(t, p.PublishCandle(ctx, c))
	require.NoError(t, p.PublishSignal(ctx, model.SignalEvent{Symbol: "BTC", Side: model.SideBuy}))
	require.NoError(t, p.PublishSignal(ctx, model.SignalEvent{Symbol: "BTC", Side: model.SideSell}))
	assert.Equal(t, 3, buffered)
	assert.Equal(t, 2, p.PendingCount(), "oldest dropped past MaxBuffer")
}

// TestPublisher_Integration runs against a real server when REDIS_TEST_ADDR is set.
func TestPublisher_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	p, err := New(ctx, Config{Addr: addr})
	require.NoError(t, err)
	defer p.Close()

	symbol := "IT" + time.Now().Format("150405.000000")
	e := model.SignalEvent{Time: time.Now().UTC(), Symbol: symbol, Side: model.SideBuy, Price: 100, Size: 1}
	require.NoError(t, p.PublishSignal(ctx, e))
	defer p.Client().Del(ctx, SignalStream(symbol))

	msgs, err := p.Client().XRange(ctx, SignalStream(symbol), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got model.SignalEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, model.SideBuy, got.Side)
	assert.Equal(t, 100.0, got.Price)
}
