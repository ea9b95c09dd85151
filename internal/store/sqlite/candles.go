package sqlite

import (
	"context"
	"database/sql"
	"time"

	"tradeengine/internal/model"

	"github.com/pkg/errors"
)

func (s *Store) GetCandle(ctx context.Context, key model.SeriesKey, bucket time.Time) (*model.Candle, error) {
	table, err := s.ensureTable(ctx, key)
	if err != nil {
		return nil, err
	}
	c := model.Candle{Symbol: key.Symbol, Resolution: key.Resolution}
	var ts int64
	err = s.db.QueryRowContext(ctx,
		`SELECT time, open, high, low, close, volume FROM "`+table+`" WHERE time = ?`,
		bucket.Unix(),
	).Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get candle %s", table)
	}
	c.Time = time.Unix(ts, 0).In(s.loc)
	return &c, nil
}

func (s *Store) CreateCandle(ctx context.Context, c model.Candle) error {
	table, err := s.ensureTable(ctx, c.Key())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO "`+table+`" (time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if isConstraint(err) {
		return model.ErrCandleExists
	}
	return errors.Wrapf(err, "create candle %s", table)
}

func (s *Store) SaveCandle(ctx context.Context, c model.Candle) error {
	table, err := s.ensureTable(ctx, c.Key())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO "`+table+`" (time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	return errors.Wrapf(err, "save candle %s", table)
}

// RecentCandles returns up to limit most recent candles, oldest first.
func (s *Store) RecentCandles(ctx context.Context, key model.SeriesKey, limit int) ([]model.Candle, error) {
	table, err := s.ensureTable(ctx, key)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, volume FROM (
			SELECT * FROM "`+table+`" ORDER BY time DESC LIMIT ?
		) ORDER BY time ASC`, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", table)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: key.Symbol, Resolution: key.Resolution}
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, errors.Wrapf(err, "scan %s", table)
		}
		c.Time = time.Unix(ts, 0).In(s.loc)
		out = append(out, c)
	}
	return out, rows.Err()
}
