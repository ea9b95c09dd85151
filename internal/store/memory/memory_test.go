package memory

import (
	"context"
	"testing"
	"time"

	"tradeengine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleStore(t *testing.T) {
	s := NewCandleStore()
	ctx := context.Background()
	key := model.SeriesKey{Symbol: "BTC", Resolution: "1m"}
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got, err := s.GetCandle(ctx, key, t0)
	require.NoError(t, err)
	assert.Nil(t, got)

	c := model.Candle{Symbol: "BTC", Resolution: "1m", Time: t0, Close: 1}
	require.NoError(t, s.CreateCandle(ctx, c))
	assert.ErrorIs(t, s.CreateCandle(ctx, c), model.ErrCandleExists)

	s.Load([]model.Candle{
		{Symbol: "BTC", Resolution: "1m", Time: t0.Add(2 * time.Minute), Close: 3},
		{Symbol: "BTC", Resolution: "1m", Time: t0.Add(time.Minute), Close: 2},
	})
	recent, err := s.RecentCandles(ctx, key, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, model.Closes(recent))

	got, err = s.GetCandle(ctx, key, t0)
	require.NoError(t, err)
	got.Close = 99
	again, _ := s.GetCandle(ctx, key, t0)
	assert.Equal(t, 1.0, again.Close, "callers get a copy")
}

func TestSignalStore(t *testing.T) {
	s := NewSignalStore()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, side := range []model.Side{model.SideBuy, model.SideSell, model.SideBuy} {
		require.NoError(t, s.SaveSignal(ctx, model.SignalEvent{
			Time: t0.Add(time.Duration(i) * time.Minute), Symbol: "BTC", Side: side, Price: float64(100 + i),
		}))
	}
	require.NoError(t, s.SaveSignal(ctx, model.SignalEvent{Time: t0, Symbol: "ETH", Side: model.SideBuy}))

	last, err := s.LastSignals(ctx, "BTC", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, []float64{101, 102}, []float64{last[0].Price, last[1].Price})

	after, err := s.SignalsAfter(ctx, "BTC", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, after, 2)
}
