package model

import (
	"context"
	"errors"
	"time"
)

// ── Port interfaces ──
// These decouple the trading core from concrete storage, exchange and
// messaging implementations (SQLite, Postgres, Redis, Kafka, REST).

// ErrCandleExists is returned by CreateCandle when the bucket already exists.
var ErrCandleExists = errors.New("candle already exists")

// ErrUnknownSeries is returned when a (symbol, resolution) pair was not
// registered at construction time.
var ErrUnknownSeries = errors.New("unknown candle series")

// CandleStore is the per-series upsert repository.
type CandleStore interface {
	// GetCandle returns the candle for the bucket, or nil, nil if absent.
	GetCandle(ctx context.Context, key SeriesKey, bucket time.Time) (*Candle, error)

	// CreateCandle inserts a new candle. Returns ErrCandleExists on a duplicate key.
	CreateCandle(ctx context.Context, c Candle) error

	// SaveCandle overwrites an existing candle in place.
	SaveCandle(ctx context.Context, c Candle) error

	// RecentCandles returns up to limit most recent candles, oldest first.
	RecentCandles(ctx context.Context, key SeriesKey, limit int) ([]Candle, error)
}

// SignalStore persists ledger events.
type SignalStore interface {
	SaveSignal(ctx context.Context, e SignalEvent) error

	// LastSignals returns the n most recent events for symbol, oldest first.
	LastSignals(ctx context.Context, symbol string, n int) ([]SignalEvent, error)

	// SignalsAfter returns events for symbol at or after t, oldest first.
	SignalsAfter(ctx context.Context, symbol string, t time.Time) ([]SignalEvent, error)
}

// OrderExecutor places market orders on the exchange.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, side Side, size float64) (ExecutionReceipt, error)

	// LastExecutionPrice returns the price of the most recent fill.
	LastExecutionPrice(ctx context.Context) (float64, error)
}

// EventPublisher forwards closed candles and accepted signals downstream
// (Redis Streams, Kafka).
type EventPublisher interface {
	PublishCandle(ctx context.Context, c Candle) error
	PublishSignal(ctx context.Context, e SignalEvent) error
	Close() error
}
