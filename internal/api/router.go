// Package api provides the read-only HTTP API of the trader.
package api

import (
	"context"
	"net/http"
	"strconv"

	"tradeengine/internal/ledger"
	"tradeengine/internal/model"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	defaultCandleLimit = 100
	maxCandleLimit     = 1000
)

// CandleReader is the read side of a CandleStore.
type CandleReader interface {
	RecentCandles(ctx context.Context, key model.SeriesKey, limit int) ([]model.Candle, error)
}

// Sources are what the API reads from.
type Sources struct {
	Symbol      string
	Resolutions []model.Resolution
	Candles     CandleReader
	Ledger      func() ledger.Value
	Params      func() *model.TradeParams
	StopLevel   func() float64
}

// NewRouter sets up the API routes.
//
//	GET /api/v1/health
//	GET /api/v1/signals                       ledger events + profit
//	GET /api/v1/candles?resolution=1m&limit=N most recent candles, oldest first
//	GET /api/v1/params                        current parameter set and stop level
func NewRouter(src Sources) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/signals", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Ledger())
	})

	mux.HandleFunc("GET /api/v1/candles", func(w http.ResponseWriter, r *http.Request) {
		res, ok := pickResolution(src.Resolutions, r.URL.Query().Get("resolution"))
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown resolution")
			return
		}
		limit := defaultCandleLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxCandleLimit)
		}

		key := model.SeriesKey{Symbol: src.Symbol, Resolution: res.Name}
		candles, err := src.Candles.RecentCandles(r.Context(), key, limit)
		if err != nil {
			log.Error().Err(err).Str("action", "api_candles").Str("series", key.String()).Msg("read candles")
			writeError(w, http.StatusInternalServerError, "candle store unavailable")
			return
		}
		if candles == nil {
			candles = []model.Candle{}
		}
		writeJSON(w, http.StatusOK, candles)
	})

	mux.HandleFunc("GET /api/v1/params", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Params    *model.TradeParams `json:"params"`
			StopLevel float64            `json:"stop_level"`
		}{src.Params(), src.StopLevel()})
	})

	return mux
}

// pickResolution resolves name against the configured resolutions. An empty
// name selects the first (narrowest) one.
func pickResolution(configured []model.Resolution, name string) (model.Resolution, bool) {
	if len(configured) == 0 {
		return model.Resolution{}, false
	}
	if name == "" {
		return configured[0], true
	}
	want, err := model.ParseResolution(name)
	if err != nil {
		return model.Resolution{}, false
	}
	for _, r := range configured {
		if r.Name == want.Name {
			return r, true
		}
	}
	return model.Resolution{}, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
