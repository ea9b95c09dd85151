// cmd/trader runs the live loop for one symbol: exchange ticker → candles in
// every configured resolution → one evaluation pass per new trading bucket.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"tradeengine/config"
	"tradeengine/internal/api"
	"tradeengine/internal/execution"
	"tradeengine/internal/ledger"
	"tradeengine/internal/logger"
	"tradeengine/internal/marketdata/agg"
	"tradeengine/internal/marketdata/bus"
	"tradeengine/internal/marketdata/ws"
	"tradeengine/internal/metrics"
	"tradeengine/internal/model"
	"tradeengine/internal/notification"
	"tradeengine/internal/optimizer"
	kafkastore "tradeengine/internal/store/kafka"
	pgstore "tradeengine/internal/store/postgres"
	redisstore "tradeengine/internal/store/redis"
	sqlitestore "tradeengine/internal/store/sqlite"
	"tradeengine/internal/strategy"
	"tradeengine/internal/trader"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// store is what both SQL backends provide.
type store interface {
	model.CandleStore
	model.SignalStore
	Ping(ctx context.Context) error
	Close() error
}

// seriesPreparer is implemented by stores that keep one table per series.
type seriesPreparer interface {
	PrepareSeries(ctx context.Context, keys []model.SeriesKey) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("trader", "info")
		log.Fatal().Err(err).Msg("config")
	}
	logger.Init("trader", cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("trader stopped")
	}
	log.Info().Str("action", "shutdown").Str("status", "done").Msg("shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	resolutions := cfg.ParsedResolutions()
	tradeRes := cfg.TradeRes()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(cfg.Symbol, cfg.ResolutionNames())

	// ---- Storage ----
	st, storeName, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	checks := map[string]metrics.Pinger{storeName: st}

	// ---- Alerts ----
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return errors.Wrap(err, "telegram")
		}
		notifier = append(notifier, tg)
	}
	if cfg.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.WebhookURL))
	}

	// ---- Execution ----
	journal, err := openJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	var (
		executor model.OrderExecutor
		paper    *execution.PaperExecutor
	)
	if cfg.Paper {
		paper = execution.NewPaperExecutor(cfg.Symbol, cfg.SlippageBps)
		paper.Journal = journal
		executor = paper
	} else {
		gmo := execution.NewGMOExecutor(execution.GMOConfig{
			BaseURL:   cfg.GMOBaseURL,
			APIKey:    cfg.GMOAPIKey,
			APISecret: cfg.GMOSecret,
			Symbol:    cfg.Symbol,
		})
		gmo.Journal = journal
		executor = gmo
	}

	// ---- Publishing ----
	fanout := bus.New(1024)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
	}
	if cfg.RedisAddr != "" {
		rp, err := redisstore.New(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn().Err(err).Str("component", "redis").Msg("redis unavailable, continuing without it")
		} else {
			rp.OnBuffer = func() { prom.RedisBufferedEvents.Inc() }
			rp.OnFlush = func(n int) {
				log.Info().Str("component", "redis").Int("count", n).Msg("flushed buffered events")
			}
			fanout.Attach(ctx, "redis", rp)
			checks["redis"] = rp
			go watchBreaker(ctx, rp.Breaker(), prom)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafkastore.NewPublisher(kafkastore.Config{Brokers: cfg.KafkaBrokers})
		if err != nil {
			return errors.Wrap(err, "kafka")
		}
		fanout.Attach(ctx, "kafka", kp)
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			log.Warn().Err(err).Str("component", "bus").Msg("publisher close")
		}
	}()

	// ---- Ledger & engine ----
	led, err := ledger.LoadLast(ctx, st, cfg.Symbol, cfg.PastPeriod)
	if err != nil {
		return errors.Wrap(err, "load ledger")
	}
	led.OnAppend = func(e model.SignalEvent) {
		_ = fanout.PublishSignal(ctx, e)
	}

	opt, err := buildOptimizer(cfg)
	if err != nil {
		return err
	}

	engine := strategy.New(strategy.Config{
		Symbol:             cfg.Symbol,
		Resolution:         tradeRes,
		PastPeriod:         cfg.PastPeriod,
		StopLimitPercent:   cfg.StopLimitPercent,
		Size:               cfg.Size,
		MaxOptimizeRetries: cfg.MaxOptimizeRetries,
		OptimizeAlarmAfter: cfg.OptimizeAlarmAfter,
	}, strategy.Deps{
		Candles:   st,
		Ledger:    led,
		Executor:  executor,
		Optimizer: opt,
		Notifier:  notifier,
	})
	engine.OnSignal = func(e model.SignalEvent) {
		prom.SignalsTotal.WithLabelValues(string(e.Side)).Inc()
		prom.Profit.Set(engine.Ledger().Profit())
	}
	engine.OnOptimized = func(*model.TradeParams) { prom.OptimizeCycles.Inc() }

	// re-optimization stops with the process, before the store closes
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer func() {
		cancelBg()
		engine.Wait()
	}()
	engine.SetBackground(bgCtx)

	if err := engine.UpdateParams(ctx, false); err != nil {
		return errors.Wrap(err, "initial optimization")
	}

	// ---- Aggregation & orchestration ----
	aggregator := agg.New(st, []string{cfg.Symbol}, resolutions)
	aggregator.OnCandleClosed = func(c model.Candle) {
		_ = fanout.PublishCandle(ctx, c)
	}
	if p, ok := st.(seriesPreparer); ok {
		if err := p.PrepareSeries(ctx, aggregator.Keys()); err != nil {
			return errors.Wrap(err, "prepare series")
		}
	}

	orch, err := trader.New(trader.Config{
		Symbol:          cfg.Symbol,
		Resolutions:     resolutions,
		TradeResolution: tradeRes,
		Location:        loc,
	}, aggregator, engine)
	if err != nil {
		return err
	}
	orch.OnTick = func(t model.Tick) {
		prom.TicksTotal.Inc()
		prom.LastPrice.Set(t.Last)
		prom.CandleLag.Set(time.Since(t.Time).Seconds())
		health.SetLastTickTime(t.Time)
		if paper != nil {
			paper.MarkPrice(t.Last)
		}
	}
	orch.OnCandleOpened = func(c model.Candle) {
		prom.CandlesTotal.WithLabelValues(c.Resolution).Inc()
	}
	orch.OnIngestError = func(error) { prom.IngestErrors.Inc() }
	orch.OnDroppedTrigger = func() { prom.DroppedTriggers.Inc() }
	orch.OnPass = func(_ string, d time.Duration, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		prom.PassesTotal.WithLabelValues(result).Inc()
		prom.PassDuration.Observe(d.Seconds())
		prom.StopLevel.Set(engine.StopLevel())
		health.SetLastPassAt(time.Now())
	}

	ingest, err := ws.New(ws.Config{URL: cfg.WSURL, Symbol: cfg.Symbol, Location: loc})
	if err != nil {
		return err
	}
	ingest.OnConnect = func() { health.SetWSConnected(true) }
	ingest.OnReconnect = func(error) {
		health.SetWSConnected(false)
		prom.WSReconnects.Inc()
	}
	ingest.OnBadFrame = func([]byte, error) { prom.BadFrames.Inc() }

	// ---- HTTP ----
	router := api.NewRouter(api.Sources{
		Symbol:      cfg.Symbol,
		Resolutions: resolutions,
		Candles:     st,
		Ledger:      led.Value,
		Params:      engine.Params,
		StopLevel:   engine.StopLevel,
	})
	srv := metrics.NewServer(cfg.MetricsAddr, health, reg, router)
	srv.Start()
	health.StartLivenessChecker(ctx, checks, 10*time.Second)

	log.Info().Str("action", "startup").Str("symbol", cfg.Symbol).Strs("resolutions", cfg.ResolutionNames()).
		Str("trade_resolution", tradeRes.Name).Bool("paper", cfg.Paper).Str("store", storeName).
		Msg("trader running")

	// ---- Run ----
	ticks := make(chan model.Tick, 1024)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingest.Start(gctx, ticks) })
	g.Go(func() error { return orch.Run(gctx, ticks) })
	g.Go(func() error {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				for i, s := range fanout.ChannelStats() {
					if s.Cap > 0 {
						prom.ChannelFillPc.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(float64(s.Len) / float64(s.Cap) * 100)
					}
				}
				prom.ChannelFillPc.WithLabelValues("ticks").Set(float64(len(ticks)) / float64(cap(ticks)) * 100)
			}
		}
	})
	runErr := g.Wait()

	log.Info().Str("action", "shutdown").Str("status", "run").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config) (store, string, error) {
	if cfg.PostgresDSN != "" {
		pg, err := pgstore.Connect(ctx, pgstore.Config{DSN: cfg.PostgresDSN, Location: cfg.Location()})
		if err != nil {
			return nil, "", errors.Wrap(err, "postgres")
		}
		return pg, "postgres", nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, "", errors.Wrap(err, "sqlite dir")
	}
	sq, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath, Location: cfg.Location()})
	if err != nil {
		return nil, "", errors.Wrap(err, "sqlite")
	}
	return sq, "sqlite", nil
}

func openJournal(path string) (*execution.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "journal dir")
	}
	return execution.NewJournal(path)
}

func buildOptimizer(cfg *config.Config) (strategy.Optimizer, error) {
	if cfg.ParamsFile == "" {
		log.Warn().Str("component", "optimizer").Msg("PARAMS_FILE not set, using EMA cross defaults")
		return optimizer.Static{Params: model.TradeParams{EMAEnable: true, EMAPeriod1: 7, EMAPeriod2: 14}}, nil
	}
	f, err := optimizer.Load(cfg.ParamsFile)
	if err != nil {
		return nil, err
	}
	return optimizer.NewCandidate(cfg.Symbol, f, cfg.StopLimitPercent), nil
}

// watchBreaker mirrors the redis breaker state into a gauge.
func watchBreaker(ctx context.Context, cb *redisstore.CircuitBreaker, prom *metrics.Metrics) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			prom.RedisCircuitBreakerState.Set(float64(cb.CurrentState()))
		}
	}
}
