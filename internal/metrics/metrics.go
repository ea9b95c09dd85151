package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the trader.
type Metrics struct {
	TicksTotal    prometheus.Counter
	IngestErrors  prometheus.Counter
	BadFrames     prometheus.Counter
	WSReconnects  prometheus.Counter
	LastPrice     prometheus.Gauge
	CandlesTotal  *prometheus.CounterVec // labels: resolution
	CandleLag     prometheus.Gauge
	ChannelFillPc *prometheus.GaugeVec // labels: channel_name

	// Evaluation passes
	PassesTotal     *prometheus.CounterVec // labels: result=ok|error
	PassDuration    prometheus.Histogram
	DroppedTriggers prometheus.Counter

	// Trading state
	SignalsTotal   *prometheus.CounterVec // labels: side
	OptimizeCycles prometheus.Counter
	StopLevel      prometheus.Gauge
	Profit         prometheus.Gauge

	// Downstream publishers
	FanoutDropsTotal         *prometheus.CounterVec // labels: subscriber
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisBufferedEvents      prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ticks_total",
			Help: "Total ticks received from WebSocket",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ingest_errors_total",
			Help: "Ticks whose candle upsert failed for at least one resolution",
		}),
		BadFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_bad_frames_total",
			Help: "WebSocket frames rejected by the ticker decoder",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_last_price",
			Help: "Last traded price from the ticker",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_candles_total",
			Help: "Candles opened (first tick of a bucket) by resolution",
		}, []string{"resolution"}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_candle_lag_seconds",
			Help: "Lag between tick timestamp and processing time",
		}),
		ChannelFillPc: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_passes_total",
			Help: "Evaluation passes by result",
		}, []string{"result"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_pass_duration_seconds",
			Help:    "Evaluation pass latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		DroppedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_dropped_triggers_total",
			Help: "Pass triggers dropped because a pass was in flight",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Accepted signals by side",
		}, []string{"side"}),
		OptimizeCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_optimize_updates_total",
			Help: "Parameter sets installed by the optimizer",
		}),
		StopLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_stop_level",
			Help: "Trailing stop level (0 when flat)",
		}),
		Profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_profit",
			Help: "Realized profit of the signal ledger",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fanout_drops_total",
			Help: "Events dropped by the publisher bus per subscriber",
		}, []string{"subscriber"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_events_total",
			Help: "Events buffered locally while the Redis circuit breaker was open",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.IngestErrors,
		m.BadFrames,
		m.WSReconnects,
		m.LastPrice,
		m.CandlesTotal,
		m.CandleLag,
		m.ChannelFillPc,
		m.PassesTotal,
		m.PassDuration,
		m.DroppedTriggers,
		m.SignalsTotal,
		m.OptimizeCycles,
		m.StopLevel,
		m.Profit,
		m.FanoutDropsTotal,
		m.RedisCircuitBreakerState,
		m.RedisBufferedEvents,
	)
	return m
}

// Pinger is a dependency probed by the liveness checker.
type Pinger interface {
	Ping(ctx context.Context) error
}

type checkResult struct {
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected  bool
	LastTickTime time.Time
	LastPassAt   time.Time
	Symbol       string
	Resolutions  []string

	checks      map[string]checkResult
	LastCheckAt time.Time
	StartedAt   time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string, resolutions []string) *HealthStatus {
	return &HealthStatus{
		Symbol:      symbol,
		Resolutions: resolutions,
		checks:      make(map[string]checkResult),
		StartedAt:   time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPassAt(t time.Time) {
	h.mu.Lock()
	h.LastPassAt = t
	h.mu.Unlock()
}

// Check pings p and records latency and connectivity under name.
func (h *HealthStatus) Check(ctx context.Context, name string, p Pinger) {
	start := time.Now()
	err := p.Ping(ctx)
	res := checkResult{OK: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
	if err != nil {
		res.Error = err.Error()
	}

	h.mu.Lock()
	h.checks[name] = res
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes every dependency once and then periodically.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, deps map[string]Pinger, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		for name, p := range deps {
			h.Check(probeCtx, name, p)
		}
	}
	probe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	failed := 0
	for _, c := range h.checks {
		if !c.OK {
			failed++
		}
	}
	if !h.WSConnected || failed > 0 {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if len(h.checks) > 0 && failed == len(h.checks) {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status       string                 `json:"status"`
		Uptime       string                 `json:"uptime"`
		Symbol       string                 `json:"symbol"`
		Resolutions  []string               `json:"resolutions"`
		WSConnected  bool                   `json:"ws_connected"`
		LastTickTime string                 `json:"last_tick_time"`
		TickAge      string                 `json:"tick_age"`
		LastPassAt   string                 `json:"last_pass_at"`
		Checks       map[string]checkResult `json:"checks"`
		LastCheckAt  string                 `json:"last_check_at"`
	}{
		Status:       overallStatus,
		Uptime:       time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:       h.Symbol,
		Resolutions:  h.Resolutions,
		WSConnected:  h.WSConnected,
		LastTickTime: h.LastTickTime.Format(time.RFC3339),
		TickAge:      tickAge,
		LastPassAt:   h.LastPassAt.Format(time.RFC3339),
		Checks:       h.checks,
		LastCheckAt:  h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and the read API.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the HTTP server. api may be nil; gatherer defaults to
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, api http.Handler) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	if api != nil {
		mux.Handle("/api/", api)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("component", "http").Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Str("component", "http").Msg("server error")
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
