// Package sqlite implements the candle and signal repositories on SQLite.
// Each candle series lives in its own table named after the series key
// (e.g. BTC_1M); signals share one SIGNAL_EVENT table.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"tradeengine/internal/model"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/trader.db"

	// Location candle bucket times are read back into. Defaults to UTC.
	Location *time.Location
}

// Store implements model.CandleStore and model.SignalStore.
type Store struct {
	db  *sql.DB
	loc *time.Location

	mu     sync.Mutex
	tables map[string]bool
}

var (
	_ model.CandleStore = (*Store)(nil)
	_ model.SignalStore = (*Store)(nil)
)

// New opens the database with WAL mode and creates the signal table.
// Candle tables are created on first use of each series.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS SIGNAL_EVENT (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			time   INTEGER NOT NULL,
			symbol TEXT    NOT NULL,
			side   TEXT    NOT NULL,
			price  REAL    NOT NULL,
			size   REAL    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signal_symbol_time ON SIGNAL_EVENT(symbol, time);
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	log.Info().Str("component", "sqlite").Str("path", cfg.DBPath).Msg("opened database")
	return &Store{db: db, loc: loc, tables: make(map[string]bool)}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PrepareSeries creates the tables of keys up front so an unusable series
// name fails at startup instead of on the first tick.
func (s *Store) PrepareSeries(ctx context.Context, keys []model.SeriesKey) error {
	for _, k := range keys {
		if _, err := s.ensureTable(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// ensureTable creates the series table once per process.
func (s *Store) ensureTable(ctx context.Context, key model.SeriesKey) (string, error) {
	name := key.String()
	if !key.Valid() {
		return "", errors.Errorf("invalid series name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[name] {
		return name, nil
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS "`+name+`" (
			time   INTEGER PRIMARY KEY NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL
		)`)
	if err != nil {
		return "", errors.Wrapf(err, "create table %s", name)
	}
	s.tables[name] = true
	return name, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
