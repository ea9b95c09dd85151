// Package trader drives the tick loop: every tick is folded into each
// configured resolution, and the first tick of a new trading-resolution
// bucket triggers one evaluation pass on a single background worker.
package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Ingester folds a tick into one candle series.
type Ingester interface {
	Ingest(ctx context.Context, symbol string, res model.Resolution, tick model.Tick) (model.Candle, bool, error)
}

// Trader runs one evaluation pass.
type Trader interface {
	Trade(ctx context.Context) error
}

// Config holds the orchestrator settings.
type Config struct {
	Symbol          string
	Resolutions     []model.Resolution
	TradeResolution model.Resolution

	// Location ticks are normalized into before bucketing. Defaults to UTC.
	Location *time.Location
}

// Orchestrator owns the tick loop and the pass worker.
type Orchestrator struct {
	cfg    Config
	agg    Ingester
	trader Trader

	trigger  chan struct{}
	inFlight atomic.Bool
	dropped  atomic.Int64
	passes   atomic.Int64

	// Hooks (optional, set before Run)
	OnTick           func(t model.Tick)
	OnCandleOpened   func(c model.Candle)
	OnIngestError    func(err error)
	OnDroppedTrigger func()
	OnPass           func(passID string, d time.Duration, err error)
}

// New creates an orchestrator. TradeResolution must be one of Resolutions.
func New(cfg Config, agg Ingester, trader Trader) (*Orchestrator, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	found := false
	for _, r := range cfg.Resolutions {
		if r.Name == cfg.TradeResolution.Name {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("trade resolution %q is not ingested", cfg.TradeResolution.Name)
	}
	return &Orchestrator{
		cfg:     cfg,
		agg:     agg,
		trader:  trader,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Dropped returns how many triggers were dropped because a pass was running.
func (o *Orchestrator) Dropped() int64 { return o.dropped.Load() }

// Passes returns how many passes have completed.
func (o *Orchestrator) Passes() int64 { return o.passes.Load() }

// Run consumes ticks until ctx is done or ticks is closed, then waits for an
// in-flight pass to finish. Passes run on a context that is not cancelled
// with ctx, so an order in progress is never cut off mid-pass.
func (o *Orchestrator) Run(ctx context.Context, ticks <-chan model.Tick) error {
	passCtx := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.worker(passCtx, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	log.Info().Str("action", "trade_loop").Str("status", "run").Str("symbol", o.cfg.Symbol).
		Str("trade_resolution", o.cfg.TradeResolution.Name).Msg("tick loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			o.HandleTick(ctx, t)
		}
	}
}

// HandleTick normalizes t, upserts it into every resolution in parallel and
// triggers a pass when it opened a new trading-resolution bucket. Ingest
// errors are logged and never stop the loop.
func (o *Orchestrator) HandleTick(ctx context.Context, t model.Tick) {
	t.Time = t.Time.In(o.cfg.Location)
	if o.OnTick != nil {
		o.OnTick(t)
	}

	opened := make([]bool, len(o.cfg.Resolutions))
	var g errgroup.Group
	for i, res := range o.cfg.Resolutions {
		g.Go(func() error {
			c, isNew, err := o.agg.Ingest(ctx, o.cfg.Symbol, res, t)
			if err != nil {
				return err
			}
			opened[i] = isNew
			if isNew && o.OnCandleOpened != nil {
				o.OnCandleOpened(c)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("action", "ingest").Str("symbol", t.Symbol).
			Time("tick_time", t.Time).Float64("price", t.Last).Msg("tick ingest failed")
		if o.OnIngestError != nil {
			o.OnIngestError(err)
		}
	}

	for i, res := range o.cfg.Resolutions {
		if opened[i] && res.Name == o.cfg.TradeResolution.Name {
			o.Trigger()
		}
	}
}

// Trigger requests a pass. It returns false, and counts a drop, when a pass
// is already pending or running; triggers are never queued behind one.
func (o *Orchestrator) Trigger() bool {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.dropped.Add(1)
		log.Warn().Str("action", "trade").Str("status", "dropped").Msg("pass in flight, trigger dropped")
		if o.OnDroppedTrigger != nil {
			o.OnDroppedTrigger()
		}
		return false
	}
	o.trigger <- struct{}{}
	return true
}

func (o *Orchestrator) worker(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-o.trigger:
			o.runPass(ctx)
		}
	}
}

func (o *Orchestrator) runPass(ctx context.Context) {
	defer o.inFlight.Store(false)

	passID := logger.NewPassID()
	pctx := logger.WithPassID(ctx, passID)
	start := time.Now()

	err := o.trader.Trade(pctx)
	d := time.Since(start)
	o.passes.Add(1)

	lg := logger.Ctx(pctx)
	if err != nil {
		lg.Error().Err(err).Str("action", "trade").Str("status", "error").Dur("took", d).Msg("pass failed")
	} else {
		lg.Info().Str("action", "trade").Str("status", "done").Dur("took", d).Msg("pass finished")
	}
	if o.OnPass != nil {
		o.OnPass(passID, d, err)
	}
}
