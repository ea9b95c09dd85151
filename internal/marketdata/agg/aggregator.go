// Package agg upserts ticks into per-(symbol, resolution) candles.
//
// Each configured series owns a mutex, so updates to the same bucket never
// interleave while different resolutions of the same tick proceed in parallel.
package agg

import (
	"context"
	"errors"
	"slices"
	"sync"

	"tradeengine/internal/model"

	pkgerrors "github.com/pkg/errors"
)

// series is the per-key lock plus the last candle written for that key.
type series struct {
	mu   sync.Mutex
	res  model.Resolution
	last *model.Candle
}

// Aggregator converts ticks into candle upserts against a CandleStore.
// Safe for concurrent use by multiple producers.
type Aggregator struct {
	store  model.CandleStore
	series map[model.SeriesKey]*series // built once, read-only afterwards
	keys   []model.SeriesKey

	// OnCandleClosed is called when a new bucket supersedes the previous one
	// (optional, set before first Ingest).
	OnCandleClosed func(c model.Candle)
}

// New creates an Aggregator for every symbol × resolution combination.
// The series table is fixed here; Ingest on anything else is ErrUnknownSeries.
func New(store model.CandleStore, symbols []string, resolutions []model.Resolution) *Aggregator {
	a := &Aggregator{
		store:  store,
		series: make(map[model.SeriesKey]*series, len(symbols)*len(resolutions)),
	}
	for _, sym := range symbols {
		for _, r := range resolutions {
			key := model.SeriesKey{Symbol: sym, Resolution: r.Name}
			a.series[key] = &series{res: r}
			a.keys = append(a.keys, key)
		}
	}
	return a
}

// Ingest applies tick to the candle of its bucket for the given series.
// Returns the resulting candle and whether this tick opened the bucket.
func (a *Aggregator) Ingest(ctx context.Context, symbol string, res model.Resolution, tick model.Tick) (model.Candle, bool, error) {
	key := model.SeriesKey{Symbol: symbol, Resolution: res.Name}
	s, ok := a.series[key]
	if !ok {
		return model.Candle{}, false, pkgerrors.Wrapf(model.ErrUnknownSeries, "ingest %s", key)
	}

	bucket := s.res.Truncate(tick.Time)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := a.store.GetCandle(ctx, key, bucket)
	if err != nil {
		return model.Candle{}, false, pkgerrors.Wrapf(err, "get candle %s %v", key, bucket)
	}

	if current == nil {
		c := model.Candle{
			Symbol:     symbol,
			Resolution: res.Name,
			Time:       bucket,
			Open:       tick.Last,
			High:       tick.Last,
			Low:        tick.Last,
			Close:      tick.Last,
			Volume:     tick.Volume,
		}
		err := a.store.CreateCandle(ctx, c)
		switch {
		case err == nil:
			a.rollover(s, c)
			return c, true, nil
		case errors.Is(err, model.ErrCandleExists):
			// Another writer got there first; fall through to the update path.
			current, err = a.store.GetCandle(ctx, key, bucket)
			if err != nil {
				return model.Candle{}, false, pkgerrors.Wrapf(err, "reload candle %s %v", key, bucket)
			}
			if current == nil {
				return model.Candle{}, false, pkgerrors.Errorf("candle %s %v vanished after conflict", key, bucket)
			}
		default:
			return model.Candle{}, false, pkgerrors.Wrapf(err, "create candle %s %v", key, bucket)
		}
	}

	c := *current
	applyTick(&c, tick)
	if err := a.store.SaveCandle(ctx, c); err != nil {
		return model.Candle{}, false, pkgerrors.Wrapf(err, "save candle %s %v", key, bucket)
	}
	s.last = &c
	return c, false, nil
}

// applyTick is the in-bucket update policy. High and low are checked in that
// order and at most one of them moves per tick; close and volume always take
// the tick's values.
func applyTick(c *model.Candle, tick model.Tick) {
	price := tick.Last
	if c.High <= price {
		c.High = price
	} else if c.Low >= price {
		c.Low = price
	}
	c.Close = price
	c.Volume = tick.Volume
}

// rollover records c as the series head and reports the candle it replaced.
// Caller holds s.mu.
func (a *Aggregator) rollover(s *series, c model.Candle) {
	prev := s.last
	s.last = &c
	if prev != nil && prev.Time.Before(c.Time) && a.OnCandleClosed != nil {
		a.OnCandleClosed(*prev)
	}
}

// Keys returns the registered series keys in symbol, then configured
// resolution, order.
func (a *Aggregator) Keys() []model.SeriesKey {
	return slices.Clone(a.keys)
}
