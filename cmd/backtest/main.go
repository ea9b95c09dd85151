// cmd/backtest runs the rule ensemble over stored candles without placing
// orders and prints the resulting trades and profit.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=BTC --resolution=1m --limit=365 --params=params.yaml
//
// With --optimize the best candidate in the params file is chosen first;
// otherwise the first candidate is used.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/optimizer"
	pgstore "tradeengine/internal/store/postgres"
	sqlitestore "tradeengine/internal/store/sqlite"
	"tradeengine/internal/strategy"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func main() {
	symbol := flag.String("symbol", "BTC", "Symbol to back-test")
	resName := flag.String("resolution", "1m", "Candle resolution")
	limit := flag.Int("limit", 365, "Number of most recent candles")
	dbPath := flag.String("db", "data/trader.db", "Path to SQLite database")
	dsn := flag.String("postgres", "", "Postgres DSN (overrides --db)")
	paramsPath := flag.String("params", "params.yaml", "Candidate parameter file")
	stop := flag.Float64("stop", 0.95, "Stop limit percent")
	optimize := flag.Bool("optimize", false, "Pick the most profitable candidate first")
	tz := flag.String("tz", "Asia/Tokyo", "Market timezone")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger.Init("backtest", *level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, options{
		symbol: *symbol, resolution: *resName, limit: *limit,
		dbPath: *dbPath, dsn: *dsn, paramsPath: *paramsPath,
		stop: *stop, optimize: *optimize, tz: *tz,
	}); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}
}

type options struct {
	symbol, resolution string
	limit              int
	dbPath, dsn        string
	paramsPath         string
	stop               float64
	optimize           bool
	tz                 string
}

func run(ctx context.Context, o options) error {
	res, err := model.ParseResolution(o.resolution)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(o.tz)
	if err != nil {
		return errors.Wrap(err, "timezone")
	}

	candles, err := loadCandles(ctx, o, model.SeriesKey{Symbol: o.symbol, Resolution: res.Name}, loc)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return errors.Errorf("no %s %s candles stored", o.symbol, res.Name)
	}

	f, err := optimizer.Load(o.paramsPath)
	if err != nil {
		return err
	}
	stopPct := o.stop
	if f.StopLimitPercent > 0 {
		stopPct = f.StopLimitPercent
	}

	params := f.Candidates[0]
	if o.optimize {
		best, err := optimizer.NewCandidate(o.symbol, f, o.stop).Optimize(ctx, candles)
		if err != nil {
			return err
		}
		if best == nil {
			fmt.Println("no candidate made a profit over the window")
			return nil
		}
		params = *best
	}

	led, err := strategy.Backtest(ctx, o.symbol, candles, params, stopPct)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s  %d candles  %s → %s\n", o.symbol, res.Name, len(candles),
		candles[0].Time.Format(time.DateTime), candles[len(candles)-1].Time.Format(time.DateTime))
	fmt.Printf("params: %+v\n\n", params)
	for _, s := range led.Signals() {
		fmt.Printf("  %s  %-4s  %12.2f  x%g\n", s.Time.Format(time.DateTime), s.Side, s.Price, s.Size)
	}
	fmt.Printf("\ntrades: %d  profit: %.2f\n", len(led.Signals()), led.Profit())
	return nil
}

func loadCandles(ctx context.Context, o options, key model.SeriesKey, loc *time.Location) ([]model.Candle, error) {
	if o.dsn != "" {
		pg, err := pgstore.Connect(ctx, pgstore.Config{DSN: o.dsn, Location: loc})
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		return pg.RecentCandles(ctx, key, o.limit)
	}

	if _, err := os.Stat(o.dbPath); err != nil {
		return nil, errors.Wrap(err, "sqlite")
	}
	sq, err := sqlitestore.New(sqlitestore.Config{DBPath: o.dbPath, Location: loc})
	if err != nil {
		return nil, err
	}
	defer sq.Close()
	return sq.RecentCandles(ctx, key, o.limit)
}
