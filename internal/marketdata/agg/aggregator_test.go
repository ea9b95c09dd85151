package agg

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradeengine/internal/model"
	"tradeengine/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("JST", 9*60*60)

func tickAt(ts time.Time, last, volume float64) model.Tick {
	return model.Tick{Symbol: "BTC", Time: ts, Ask: last + 1, Bid: last - 1, Last: last, Volume: volume}
}

func TestAggregator_SingleBucketScenario(t *testing.T) {
	store := memory.NewCandleStore()
	a := New(store, []string{"BTC"}, []model.Resolution{model.Res1m})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 5, 0, jst)

	c, isNew, err := a.Ingest(ctx, "BTC", model.Res1m, tickAt(base, 100, 1))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, 100.0, c.Open)

	_, isNew, err = a.Ingest(ctx, "BTC", model.Res1m, tickAt(base.Add(10*time.Second), 105, 2))
	require.NoError(t, err)
	assert.False(t, isNew)

	c, isNew, err = a.Ingest(ctx, "BTC", model.Res1m, tickAt(base.Add(20*time.Second), 95, 3))
	require.NoError(t, err)
	assert.False(t, isNew)

	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 105.0, c.High)
	assert.Equal(t, 95.0, c.Low)
	assert.Equal(t, 95.0, c.Close)
	assert.Equal(t, 3.0, c.Volume, "volume is overwritten, not summed")
	assert.True(t, c.Time.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, jst)))

	stored, err := store.GetCandle(ctx, c.Key(), c.Time)
	require.NoError(t, err)
	assert.Equal(t, c, *stored)
}

func TestAggregator_HighAndLowNeverBothMove(t *testing.T) {
	a := New(memory.NewCandleStore(), []string{"BTC"}, []model.Resolution{model.Res5m})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, jst)

	prices := []float64{100, 100, 101, 99, 99, 120, 80, 80, 100}
	prev, _, err := a.Ingest(ctx, "BTC", model.Res5m, tickAt(base, prices[0], 1))
	require.NoError(t, err)
	for i, p := range prices[1:] {
		c, _, err := a.Ingest(ctx, "BTC", model.Res5m, tickAt(base.Add(time.Duration(i+1)*time.Second), p, 1))
		require.NoError(t, err)
		highMoved := c.High != prev.High
		lowMoved := c.Low != prev.Low
		assert.False(t, highMoved && lowMoved, "tick %v moved both high and low", p)
		assert.Equal(t, p, c.Close)
		prev = c
	}
}

func TestAggregator_FlatCandleTies(t *testing.T) {
	a := New(memory.NewCandleStore(), []string{"BTC"}, []model.Resolution{model.Res1m})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, jst)

	_, _, err := a.Ingest(ctx, "BTC", model.Res1m, tickAt(base, 100, 1))
	require.NoError(t, err)

	// equal price takes the high branch
	c, _, err := a.Ingest(ctx, "BTC", model.Res1m, tickAt(base.Add(time.Second), 100, 1))
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.High)
	assert.Equal(t, 100.0, c.Low)

	c, _, err = a.Ingest(ctx, "BTC", model.Res1m, tickAt(base.Add(2*time.Second), 90, 1))
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.High)
	assert.Equal(t, 90.0, c.Low)
}

func TestAggregator_NewBucketPerResolution(t *testing.T) {
	store := memory.NewCandleStore()
	res := []model.Resolution{model.Res1m, model.Res5m}
	a := New(store, []string{"BTC"}, res)
	var closed []model.Candle
	a.OnCandleClosed = func(c model.Candle) { closed = append(closed, c) }
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 30, 0, jst)

	for _, r := range res {
		_, isNew, err := a.Ingest(ctx, "BTC", r, tickAt(base, 100, 1))
		require.NoError(t, err)
		assert.True(t, isNew, r.Name)
	}

	next := base.Add(time.Minute)
	_, isNew, err := a.Ingest(ctx, "BTC", model.Res1m, tickAt(next, 101, 1))
	require.NoError(t, err)
	assert.True(t, isNew, "1m rolls over")
	_, isNew, err = a.Ingest(ctx, "BTC", model.Res5m, tickAt(next, 101, 1))
	require.NoError(t, err)
	assert.False(t, isNew, "5m still in the same bucket")

	require.Len(t, closed, 1)
	assert.Equal(t, "1m", closed[0].Resolution)
	assert.Equal(t, 100.0, closed[0].Close)
}

func TestAggregator_UnknownSeries(t *testing.T) {
	a := New(memory.NewCandleStore(), []string{"BTC"}, []model.Resolution{model.Res1m})
	_, _, err := a.Ingest(context.Background(), "ETH", model.Res1m, tickAt(time.Now(), 1, 1))
	assert.ErrorIs(t, err, model.ErrUnknownSeries)

	_, _, err = a.Ingest(context.Background(), "BTC", model.Res1h, tickAt(time.Now(), 1, 1))
	assert.ErrorIs(t, err, model.ErrUnknownSeries)
}

func TestAggregator_KeysInConfiguredOrder(t *testing.T) {
	a := New(memory.NewCandleStore(), []string{"BTC", "ETH"}, []model.Resolution{model.Res5m, model.Res1m})
	assert.Equal(t, []model.SeriesKey{
		{Symbol: "BTC", Resolution: "5m"},
		{Symbol: "BTC", Resolution: "1m"},
		{Symbol: "ETH", Resolution: "5m"},
		{Symbol: "ETH", Resolution: "1m"},
	}, a.Keys())
}

// racingStore reports a conflict on the first create, as if another writer
// had inserted the bucket between get and create.
type racingStore struct {
	*memory.CandleStore
	conflicted bool
}

func (s *racingStore) CreateCandle(ctx context.Context, c model.Candle) error {
	if !s.conflicted {
		s.conflicted = true
		other := c
		other.Open, other.High, other.Low, other.Close = 50, 50, 50, 50
		_ = s.CandleStore.CreateCandle(ctx, other)
		return model.ErrCandleExists
	}
	return s.CandleStore.CreateCandle(ctx, c)
}

func TestAggregator_CreateConflictTreatedAsExisting(t *testing.T) {
	store := &racingStore{CandleStore: memory.NewCandleStore()}
	a := New(store, []string{"BTC"}, []model.Resolution{model.Res1m})

	c, isNew, err := a.Ingest(context.Background(), "BTC", model.Res1m, tickAt(time.Date(2024, 5, 1, 10, 0, 0, 0, jst), 60, 2))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, 50.0, c.Open)
	assert.Equal(t, 60.0, c.High)
	assert.Equal(t, 60.0, c.Close)
}

type failingStore struct {
	*memory.CandleStore
}

func (failingStore) GetCandle(context.Context, model.SeriesKey, time.Time) (*model.Candle, error) {
	return nil, errors.New("db down")
}

func TestAggregator_StoreErrorPropagates(t *testing.T) {
	a := New(failingStore{memory.NewCandleStore()}, []string{"BTC"}, []model.Resolution{model.Res1m})
	_, _, err := a.Ingest(context.Background(), "BTC", model.Res1m, tickAt(time.Now(), 1, 1))
	assert.ErrorContains(t, err, "db down")
}

// countingStore counts creates so concurrent producers can be checked.
type countingStore struct {
	*memory.CandleStore
	creates atomic.Int32
}

func (s *countingStore) CreateCandle(ctx context.Context, c model.Candle) error {
	s.creates.Add(1)
	return s.CandleStore.CreateCandle(ctx, c)
}

func TestAggregator_ConcurrentProducersSameBucket(t *testing.T) {
	store := &countingStore{CandleStore: memory.NewCandleStore()}
	a := New(store, []string{"BTC"}, []model.Resolution{model.Res1m})
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, jst)

	var wg sync.WaitGroup
	var newBuckets atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := a.Ingest(context.Background(), "BTC", model.Res1m, tickAt(base.Add(time.Duration(i)*time.Second/2), float64(100+i), 1))
			assert.NoError(t, err)
			if isNew {
				newBuckets.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), newBuckets.Load())
	assert.Equal(t, int32(1), store.creates.Load())
}
