// Package strategy runs the rule ensemble over the trading series and turns
// its votes into ledger entries and exchange orders.
//
// Engine owns the trailing stop level and the current TradeParams. A pass
// (Trade) walks the recent candles of the trading resolution; every enabled
// detector votes buy or sell per candle, and a candle with any buy vote opens
// a position while any sell vote (or the close dropping below the stop)
// closes it. Closing a position kicks off a background re-optimization.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"tradeengine/internal/ledger"
	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrOptimizeExhausted is returned by a blocking UpdateParams that gave up
// after MaxOptimizeRetries cycles without a parameter set.
var ErrOptimizeExhausted = errors.New("optimizer returned no parameters")

// Optimizer produces a parameter set for a candle window. A nil result means
// no profitable set was found.
type Optimizer interface {
	Optimize(ctx context.Context, candles []model.Candle) (*model.TradeParams, error)
}

// Config holds the engine's fixed settings.
type Config struct {
	Symbol           string
	Resolution       model.Resolution
	PastPeriod       int     // candles read per pass
	StopLimitPercent float64 // stop = entry close * StopLimitPercent
	Size             float64 // live order size

	// BackTest runs against the ledger only: close price, size 1, nothing
	// persisted, no orders and no re-optimization.
	BackTest bool

	MaxOptimizeRetries int // 0 = retry until parameters appear
	OptimizeAlarmAfter int // cycles before a CRITICAL alert; 0 disables

	// StartTime rejects live signals on candles older than the process.
	// Zero means time.Now() at construction.
	StartTime time.Time
}

// Deps are the engine's collaborators. Candles is required for Trade and
// UpdateParams; Executor for live mode; Notifier is optional.
type Deps struct {
	Candles   model.CandleStore
	Ledger    *ledger.Ledger
	Executor  model.OrderExecutor
	Optimizer Optimizer
	Notifier  notification.Notifier
}

// Engine is the decision engine for one symbol.
type Engine struct {
	cfg  Config
	deps Deps

	tradeMu sync.Mutex    // one pass at a time
	stop    atomic.Uint64 // float64 bits; written under tradeMu, read anywhere

	// unrecorded is a fill that reached the exchange but not the ledger.
	// While set no further orders are placed. Guarded by tradeMu.
	unrecorded *model.ExecutionReceipt

	// background bounds re-optimization, which outlives the pass that
	// started it.
	background context.Context

	paramsMu sync.RWMutex
	params   *model.TradeParams

	optimizing atomic.Bool
	wg         sync.WaitGroup

	// sleep is swapped in tests to observe retry back-off.
	sleep func(ctx context.Context, d time.Duration) error

	// Metric hooks (optional)
	OnSignal    func(e model.SignalEvent)
	OnOptimized func(p *model.TradeParams)
}

// New creates an engine. It does not load parameters; call UpdateParams.
func New(cfg Config, deps Deps) *Engine {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(nil, nil)
	}
	return &Engine{cfg: cfg, deps: deps, sleep: sleepCtx, background: context.Background()}
}

// SetBackground sets the context background re-optimization runs on;
// cancelling it stops the retry loop. Call before the first Trade.
func (e *Engine) SetBackground(ctx context.Context) { e.background = ctx }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ledger returns the engine's signal ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.deps.Ledger }

// Params returns the current parameter set, nil if none.
func (e *Engine) Params() *model.TradeParams {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// SetParams replaces the parameter set wholesale.
func (e *Engine) SetParams(p *model.TradeParams) {
	e.paramsMu.Lock()
	e.params = p
	e.paramsMu.Unlock()
}

// StopLevel returns the trailing stop, 0 when flat. It never waits on a
// running pass.
func (e *Engine) StopLevel() float64 {
	return math.Float64frombits(e.stop.Load())
}

func (e *Engine) setStop(v float64) { e.stop.Store(math.Float64bits(v)) }

// Trade runs one evaluation pass over the most recent PastPeriod candles.
// A nil parameter set makes it a no-op.
func (e *Engine) Trade(ctx context.Context) error {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()

	log.Info().Str("pass_id", logger.PassID(ctx)).Str("action", "trade").Str("status", "run").Msg("trade pass")

	params := e.Params()
	if params == nil {
		return nil
	}

	candles, err := e.deps.Candles.RecentCandles(ctx, e.seriesKey(), e.cfg.PastPeriod)
	if err != nil {
		return errors.Wrap(err, "read trading window")
	}
	return e.evaluate(ctx, candles, buildDetectors(candles, *params))
}

// Evaluate runs the ensemble over candles with params under the trade lock.
func (e *Engine) Evaluate(ctx context.Context, candles []model.Candle, params model.TradeParams) error {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	return e.evaluate(ctx, candles, buildDetectors(candles, params))
}

func (e *Engine) evaluate(ctx context.Context, candles []model.Candle, detectors []detector) error {
	for i := 1; i < len(candles); i++ {
		buyPoints, sellPoints := 0, 0
		for _, d := range detectors {
			buy, sell := d.vote(i)
			if buy {
				buyPoints++
			}
			if sell {
				sellPoints++
			}
		}

		c := candles[i]
		if buyPoints > 0 {
			ok, err := e.buy(ctx, c)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			e.setStop(c.Close * e.cfg.StopLimitPercent)
		}

		if sellPoints > 0 || e.StopLevel() > c.Close {
			ok, err := e.sell(ctx, c)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			e.setStop(0)
			e.reoptimize()
		}
	}
	return nil
}

func (e *Engine) buy(ctx context.Context, c model.Candle) (bool, error) {
	return e.open(ctx, c, model.SideBuy)
}

func (e *Engine) sell(ctx context.Context, c model.Candle) (bool, error) {
	return e.open(ctx, c, model.SideSell)
}

// open places one side of a trade for candle c and records it in the ledger.
func (e *Engine) open(ctx context.Context, c model.Candle, side model.Side) (bool, error) {
	l := e.deps.Ledger
	record := l.Buy
	allowed := l.CanBuy
	violation := "previous_was_buy"
	if side == model.SideSell {
		record = l.Sell
		allowed = l.CanSell
		violation = "previous_was_sell"
	}
	action := "buy"
	if side == model.SideSell {
		action = "sell"
	}

	if e.cfg.BackTest {
		return record(ctx, c.Time, e.cfg.Symbol, c.Close, 1.0, false)
	}

	lg := log.With().Str("pass_id", logger.PassID(ctx)).Str("action", action).Time("candle", c.Time).Logger()

	if c.Time.Before(e.cfg.StartTime) {
		lg.Warn().Str("status", "false").Str("error", "old_time").Msg("candle predates engine start")
		return false, nil
	}
	if e.unrecorded != nil {
		lg.Warn().Str("status", "false").Str("error", "unrecorded_order").Str("order_id", e.unrecorded.OrderID).
			Msg("an earlier fill is missing from the ledger, not ordering")
		return false, nil
	}
	if !allowed(c.Time) {
		lg.Warn().Str("status", "false").Str("error", violation).Msg("ledger would not alternate")
		return false, nil
	}

	receipt, err := e.deps.Executor.PlaceOrder(ctx, side, e.cfg.Size)
	if err != nil {
		notification.SendQuietly(ctx, e.deps.Notifier, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "order failed",
			Message: fmt.Sprintf("%s %s %.8f: %v", side, e.cfg.Symbol, e.cfg.Size, err),
		})
		return false, errors.Wrapf(err, "place %s order", side)
	}

	// The order is live from here on: it must reach the ledger even when its
	// price is unknown.
	price := receipt.Price
	if price <= 0 {
		price, err = e.deps.Executor.LastExecutionPrice(ctx)
		if err != nil || price <= 0 {
			lg.Warn().Err(err).Str("order_id", receipt.OrderID).Float64("price", c.Close).
				Msg("fill not visible yet, recording candle close")
			notification.SendQuietly(ctx, e.deps.Notifier, notification.Alert{
				Level:   notification.AlertWarning,
				Title:   "provisional fill price",
				Message: fmt.Sprintf("%s %s order %s: no execution found, recorded at candle close %.2f", side, e.cfg.Symbol, receipt.OrderID, c.Close),
			})
			price = c.Close
		}
	}

	ok, err := record(ctx, c.Time, e.cfg.Symbol, price, e.cfg.Size, true)
	if err == nil && !ok {
		err = errors.New("ledger refused the event")
	}
	if err != nil {
		e.unrecorded = &receipt
		notification.SendQuietly(ctx, e.deps.Notifier, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "fill not recorded",
			Message: fmt.Sprintf("%s %s order %s filled but was not recorded (%v); ordering is halted", side, e.cfg.Symbol, receipt.OrderID, err),
		})
		return false, errors.Wrapf(err, "record %s order %s", side, receipt.OrderID)
	}

	lg.Info().Str("status", "true").Float64("price", price).Float64("size", e.cfg.Size).Msg("signal recorded")
	ev := model.SignalEvent{Time: c.Time, Symbol: e.cfg.Symbol, Side: side, Price: price, Size: e.cfg.Size}
	if e.OnSignal != nil {
		e.OnSignal(ev)
	}
	notification.SendQuietly(ctx, e.deps.Notifier, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "fill",
		Message: fmt.Sprintf("%s %s %.8f @ %.2f", side, e.cfg.Symbol, e.cfg.Size, price),
	})
	return true, nil
}

// reoptimize starts a blocking UpdateParams on the background context unless
// one is already running. Never runs in back-test mode.
func (e *Engine) reoptimize() {
	if e.cfg.BackTest || e.deps.Optimizer == nil {
		return
	}
	if !e.optimizing.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.optimizing.Store(false)
		if err := e.UpdateParams(e.background, true); err != nil {
			log.Error().Err(err).Str("action", "update_optimize_params").Msg("re-optimization stopped")
		}
	}()
}

// Wait blocks until any background re-optimization has returned.
func (e *Engine) Wait() { e.wg.Wait() }

// UpdateParams asks the optimizer for a parameter set over the recent window
// and installs the result (nil included). With blocking set it keeps retrying
// every 10 bars of the trading resolution until a set is found, ctx is done
// or MaxOptimizeRetries cycles have passed.
func (e *Engine) UpdateParams(ctx context.Context, blocking bool) error {
	lg := log.With().Str("action", "update_optimize_params").Logger()
	alarmed := false
	for attempt := 1; ; attempt++ {
		lg.Info().Str("status", "run").Int("attempt", attempt).Msg("optimizing")

		params := e.optimizeOnce(ctx)
		if params != nil {
			lg.Info().Interface("params", params).Msg("parameters updated")
			if e.OnOptimized != nil {
				e.OnOptimized(params)
			}
			return nil
		}
		if !blocking {
			return nil
		}

		if e.cfg.OptimizeAlarmAfter > 0 && attempt >= e.cfg.OptimizeAlarmAfter && !alarmed {
			alarmed = true
			notification.SendQuietly(ctx, e.deps.Notifier, notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "optimizer starved",
				Message: fmt.Sprintf("no parameters for %s %s after %d cycles; trading is paused", e.cfg.Symbol, e.cfg.Resolution, attempt),
			})
		}
		if e.cfg.MaxOptimizeRetries > 0 && attempt >= e.cfg.MaxOptimizeRetries {
			return errors.Wrapf(ErrOptimizeExhausted, "%d cycles", attempt)
		}

		if err := e.sleep(ctx, 10*e.cfg.Resolution.Duration); err != nil {
			return err
		}
	}
}

// optimizeOnce runs the optimizer over the current window and stores its
// result. An empty window leaves the current parameters in place; optimizer
// errors count as "no parameters".
func (e *Engine) optimizeOnce(ctx context.Context) *model.TradeParams {
	candles, err := e.deps.Candles.RecentCandles(ctx, e.seriesKey(), e.cfg.PastPeriod)
	if err != nil {
		log.Warn().Err(err).Str("action", "update_optimize_params").Msg("read window")
		return e.Params()
	}
	if len(candles) == 0 {
		return e.Params()
	}

	params, err := e.deps.Optimizer.Optimize(ctx, candles)
	if err != nil {
		log.Warn().Err(err).Str("action", "update_optimize_params").Msg("optimizer failed")
		params = nil
	}
	e.SetParams(params)
	return params
}

func (e *Engine) seriesKey() model.SeriesKey {
	return model.SeriesKey{Symbol: e.cfg.Symbol, Resolution: e.cfg.Resolution.Name}
}
