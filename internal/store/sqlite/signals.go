package sqlite

import (
	"context"
	"database/sql"
	"time"

	"tradeengine/internal/model"

	"github.com/pkg/errors"
)

func (s *Store) SaveSignal(ctx context.Context, e model.SignalEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO SIGNAL_EVENT (time, symbol, side, price, size) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UnixNano(), e.Symbol, string(e.Side), e.Price, e.Size,
	)
	return errors.Wrap(err, "save signal")
}

// LastSignals returns the n most recent events for symbol, oldest first.
func (s *Store) LastSignals(ctx context.Context, symbol string, n int) ([]model.SignalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, symbol, side, price, size FROM (
			SELECT * FROM SIGNAL_EVENT WHERE symbol = ? ORDER BY time DESC, id DESC LIMIT ?
		) ORDER BY time ASC, id ASC`, symbol, n)
	if err != nil {
		return nil, errors.Wrap(err, "query signals")
	}
	return s.scanSignals(rows)
}

// SignalsAfter returns events for symbol at or after t, oldest first.
func (s *Store) SignalsAfter(ctx context.Context, symbol string, t time.Time) ([]model.SignalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, symbol, side, price, size FROM SIGNAL_EVENT
		WHERE symbol = ? AND time >= ? ORDER BY time ASC, id ASC`, symbol, t.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "query signals")
	}
	return s.scanSignals(rows)
}

func (s *Store) scanSignals(rows *sql.Rows) ([]model.SignalEvent, error) {
	defer rows.Close()
	var out []model.SignalEvent
	for rows.Next() {
		var e model.SignalEvent
		var ns int64
		var side string
		if err := rows.Scan(&ns, &e.Symbol, &side, &e.Price, &e.Size); err != nil {
			return nil, errors.Wrap(err, "scan signal")
		}
		e.Time = time.Unix(0, ns).In(s.loc)
		e.Side = model.Side(side)
		out = append(out, e)
	}
	return out, rows.Err()
}
