package execution

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"tradeengine/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Journal persists execution receipts to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "journal: open")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		size        REAL NOT NULL,
		price       REAL NOT NULL,
		slippage    REAL DEFAULT 0,
		executed_at TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol);
	CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "journal: schema")
	}

	log.Info().Str("component", "journal").Str("path", dbPath).Msg("opened execution journal")
	return &Journal{db: db}, nil
}

// Record persists one receipt.
func (j *Journal) Record(ctx context.Context, r model.ExecutionReceipt, slippage float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO executions (order_id, symbol, side, size, price, slippage, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.OrderID,
		r.Symbol,
		string(r.Side),
		r.Size,
		r.Price,
		slippage,
		r.ExecutedAt.UTC().Format(time.RFC3339Nano),
	)
	return errors.Wrap(err, "journal: insert")
}

// Entry represents a row from the executions table.
type Entry struct {
	ID         int64   `json:"id"`
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	Slippage   float64 `json:"slippage"`
	ExecutedAt string  `json:"executed_at"`
}

// Recent returns the last N executions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, order_id, symbol, side, size, price, slippage, executed_at
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal: query")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var r Entry
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Side, &r.Size, &r.Price, &r.Slippage, &r.ExecutedAt); err != nil {
			return nil, errors.Wrap(err, "journal: scan")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
