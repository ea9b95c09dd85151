// cmd/tickserver serves simulated exchange ticker messages so cmd/trader can
// run without the live feed (point WS_URL at ws://localhost:9001/ws).
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL:PRICE pairs (default "BTC:10000000")
//	TICK_INTERVAL     broadcast interval (default "500ms")
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tradeengine/internal/logger"
	"tradeengine/internal/marketdata/wssim"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type config struct {
	Addr     string        `env:"TICK_SERVER_ADDR" envDefault:":9001"`
	Symbols  []string      `env:"TICK_SYMBOLS" envSeparator:"," envDefault:"BTC:10000000"`
	Interval time.Duration `env:"TICK_INTERVAL" envDefault:"500ms"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Init("tickserver", "info")
		log.Fatal().Err(err).Msg("config")
	}
	logger.Init("tickserver", cfg.LogLevel)

	start := parseSymbols(cfg.Symbols)
	if len(start) == 0 {
		log.Fatal().Msg("no symbols configured via TICK_SYMBOLS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := wssim.New(start)
	go sim.Run(ctx, cfg.Interval)

	mux := http.NewServeMux()
	mux.Handle("/ws", sim.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "service": "tickserver", "clients": sim.Clients()})
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Interface("symbols", start).Dur("interval", cfg.Interval).Msg("tick server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func parseSymbols(specs []string) map[string]float64 {
	out := make(map[string]float64, len(specs))
	for _, spec := range specs {
		sym, price, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok {
			log.Warn().Str("spec", spec).Msg("skipping invalid symbol spec")
			continue
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
		if err != nil || p <= 0 {
			log.Warn().Str("spec", spec).Msg("skipping invalid start price")
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = p
	}
	return out
}
