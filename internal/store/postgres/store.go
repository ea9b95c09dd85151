// Package postgres implements the candle and signal repositories on
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"time"

	"tradeengine/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config is the pool configuration.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration

	// Location candle bucket times are read back into. Defaults to UTC.
	Location *time.Location
}

// Store implements model.CandleStore and model.SignalStore.
type Store struct {
	db   DB
	pool *pgxpool.Pool
	loc  *time.Location
}

var (
	_ model.CandleStore = (*Store)(nil)
	_ model.SignalStore = (*Store)(nil)
)

// Connect opens a pool, pings it and creates the schema.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse dsn")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}

	s := NewWithDB(pool, cfg.Location)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("component", "postgres").Str("host", pcfg.ConnConfig.Host).Msg("connected")
	return s, nil
}

// NewWithDB wraps an existing pool or test double. Migrate is not run.
func NewWithDB(db DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT        NOT NULL,
			resolution TEXT        NOT NULL,
			time       TIMESTAMPTZ NOT NULL,
			open       DOUBLE PRECISION NOT NULL,
			high       DOUBLE PRECISION NOT NULL,
			low        DOUBLE PRECISION NOT NULL,
			close      DOUBLE PRECISION NOT NULL,
			volume     DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, resolution, time)
		);
		CREATE TABLE IF NOT EXISTS signal_events (
			id     BIGSERIAL PRIMARY KEY,
			time   TIMESTAMPTZ NOT NULL,
			symbol TEXT        NOT NULL,
			side   TEXT        NOT NULL,
			price  DOUBLE PRECISION NOT NULL,
			size   DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signal_events_symbol_time ON signal_events (symbol, time);
	`)
	return errors.Wrap(err, "postgres: migrate")
}

// Ping reports whether the pool is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) GetCandle(ctx context.Context, key model.SeriesKey, bucket time.Time) (*model.Candle, error) {
	c := model.Candle{Symbol: key.Symbol, Resolution: key.Resolution}
	err := s.db.QueryRow(ctx,
		`SELECT time, open, high, low, close, volume FROM candles
		 WHERE symbol = $1 AND resolution = $2 AND time = $3`,
		key.Symbol, key.Resolution, bucket,
	).Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get candle %s", key)
	}
	c.Time = c.Time.In(s.loc)
	return &c, nil
}

func (s *Store) CreateCandle(ctx context.Context, c model.Candle) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO candles (symbol, resolution, time, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.Symbol, c.Resolution, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if isUniqueViolation(err) {
		return model.ErrCandleExists
	}
	return errors.Wrapf(err, "create candle %s", c.Key())
}

func (s *Store) SaveCandle(ctx context.Context, c model.Candle) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO candles (symbol, resolution, time, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (symbol, resolution, time) DO UPDATE SET
		   open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		   close = EXCLUDED.close, volume = EXCLUDED.volume`,
		c.Symbol, c.Resolution, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	return errors.Wrapf(err, "save candle %s", c.Key())
}

// RecentCandles returns up to limit most recent candles, oldest first.
// A non-positive limit returns the whole series.
func (s *Store) RecentCandles(ctx context.Context, key model.SeriesKey, limit int) ([]model.Candle, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
		SELECT time, open, high, low, close, volume FROM (
			SELECT * FROM candles WHERE symbol = $1 AND resolution = $2
			ORDER BY time DESC LIMIT $3
		) t ORDER BY time ASC`, key.Symbol, key.Resolution, lim)
	if err != nil {
		return nil, errors.Wrapf(err, "query candles %s", key)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: key.Symbol, Resolution: key.Resolution}
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, errors.Wrapf(err, "scan candles %s", key)
		}
		c.Time = c.Time.In(s.loc)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveSignal(ctx context.Context, e model.SignalEvent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO signal_events (time, symbol, side, price, size) VALUES ($1, $2, $3, $4, $5)`,
		e.Time, e.Symbol, string(e.Side), e.Price, e.Size,
	)
	return errors.Wrap(err, "save signal")
}

// LastSignals returns the n most recent events for symbol, oldest first.
func (s *Store) LastSignals(ctx context.Context, symbol string, n int) ([]model.SignalEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time, symbol, side, price, size FROM (
			SELECT * FROM signal_events WHERE symbol = $1 ORDER BY time DESC, id DESC LIMIT $2
		) t ORDER BY time ASC, id ASC`, symbol, n)
	if err != nil {
		return nil, errors.Wrap(err, "query signals")
	}
	return s.scanSignals(rows)
}

// SignalsAfter returns events for symbol at or after t, oldest first.
func (s *Store) SignalsAfter(ctx context.Context, symbol string, t time.Time) ([]model.SignalEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT time, symbol, side, price, size FROM signal_events
		WHERE symbol = $1 AND time >= $2 ORDER BY time ASC, id ASC`, symbol, t)
	if err != nil {
		return nil, errors.Wrap(err, "query signals")
	}
	return s.scanSignals(rows)
}

func (s *Store) scanSignals(rows pgx.Rows) ([]model.SignalEvent, error) {
	defer rows.Close()
	var out []model.SignalEvent
	for rows.Next() {
		var e model.SignalEvent
		var side string
		if err := rows.Scan(&e.Time, &e.Symbol, &side, &e.Price, &e.Size); err != nil {
			return nil, errors.Wrap(err, "scan signal")
		}
		e.Time = e.Time.In(s.loc)
		e.Side = model.Side(side)
		out = append(out, e)
	}
	return out, rows.Err()
}
