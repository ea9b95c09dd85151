// Package memory provides map-backed CandleStore and SignalStore
// implementations for back-testing and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeengine/internal/model"
)

// CandleStore keeps candles in memory, keyed by series and bucket start.
type CandleStore struct {
	mu      sync.RWMutex
	candles map[model.SeriesKey]map[int64]model.Candle
}

// NewCandleStore creates an empty store.
func NewCandleStore() *CandleStore {
	return &CandleStore{candles: make(map[model.SeriesKey]map[int64]model.Candle)}
}

func (s *CandleStore) GetCandle(_ context.Context, key model.SeriesKey, bucket time.Time) (*model.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candles[key][bucket.Unix()]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *CandleStore) CreateCandle(_ context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySeries, ok := s.candles[c.Key()]
	if !ok {
		bySeries = make(map[int64]model.Candle)
		s.candles[c.Key()] = bySeries
	}
	if _, exists := bySeries[c.Time.Unix()]; exists {
		return model.ErrCandleExists
	}
	bySeries[c.Time.Unix()] = c
	return nil
}

func (s *CandleStore) SaveCandle(_ context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySeries, ok := s.candles[c.Key()]
	if !ok {
		bySeries = make(map[int64]model.Candle)
		s.candles[c.Key()] = bySeries
	}
	bySeries[c.Time.Unix()] = c
	return nil
}

func (s *CandleStore) RecentCandles(_ context.Context, key model.SeriesKey, limit int) ([]model.Candle, error) {
	s.mu.RLock()
	out := make([]model.Candle, 0, len(s.candles[key]))
	for _, c := range s.candles[key] {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Load bulk-inserts candles, replacing any with the same key.
func (s *CandleStore) Load(candles []model.Candle) {
	for _, c := range candles {
		_ = s.SaveCandle(context.Background(), c)
	}
}

// SignalStore keeps signal events in insertion order.
type SignalStore struct {
	mu     sync.RWMutex
	events []model.SignalEvent
}

// NewSignalStore creates an empty store.
func NewSignalStore() *SignalStore {
	return &SignalStore{}
}

func (s *SignalStore) SaveSignal(_ context.Context, e model.SignalEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *SignalStore) LastSignals(_ context.Context, symbol string, n int) ([]model.SignalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SignalEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		if s.events[i].Symbol == symbol {
			out = append(out, s.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SignalStore) SignalsAfter(_ context.Context, symbol string, t time.Time) ([]model.SignalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SignalEvent
	for _, e := range s.events {
		if e.Symbol == symbol && !e.Time.Before(t) {
			out = append(out, e)
		}
	}
	return out, nil
}
