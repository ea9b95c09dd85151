// Package optimizer chooses TradeParams for the decision engine.
//
// CandidateOptimizer back-tests a fixed list of parameter sets (loaded from
// YAML) over the candle window and keeps the most profitable one. Static
// always returns the same set.
package optimizer

import (
	"context"
	"os"

	"tradeengine/internal/model"
	"tradeengine/internal/strategy"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File is the on-disk candidate list.
type File struct {
	// StopLimitPercent used while back-testing candidates.
	StopLimitPercent float64             `yaml:"stop_limit_percent"`
	Candidates       []model.TradeParams `yaml:"candidates"`
}

// Load reads a candidate file.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrap(err, "read candidates")
	}
	return Parse(raw)
}

// Parse decodes a candidate file body.
func Parse(raw []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, errors.Wrap(err, "decode candidates")
	}
	if len(f.Candidates) == 0 {
		return File{}, errors.New("candidates: empty list")
	}
	return f, nil
}

// CandidateOptimizer picks the best of a fixed set of parameters.
type CandidateOptimizer struct {
	symbol           string
	stopLimitPercent float64
	candidates       []model.TradeParams
}

// NewCandidate creates an optimizer over f. A zero stop percent in the file
// falls back to defaultStop.
func NewCandidate(symbol string, f File, defaultStop float64) *CandidateOptimizer {
	stop := f.StopLimitPercent
	if stop == 0 {
		stop = defaultStop
	}
	return &CandidateOptimizer{symbol: symbol, stopLimitPercent: stop, candidates: f.Candidates}
}

// Optimize returns a copy of the candidate with the highest positive
// back-test profit over candles, or nil if none made money.
func (o *CandidateOptimizer) Optimize(ctx context.Context, candles []model.Candle) (*model.TradeParams, error) {
	var (
		best       *model.TradeParams
		bestProfit float64
	)
	for i := range o.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := strategy.Backtest(ctx, o.symbol, candles, o.candidates[i], o.stopLimitPercent)
		if err != nil {
			return nil, errors.Wrapf(err, "backtest candidate %d", i)
		}
		p := l.Profit()
		log.Debug().Str("action", "optimize").Int("candidate", i).Float64("profit", p).Int("trades", l.Len()).Msg("candidate scored")
		if p > bestProfit {
			c := o.candidates[i]
			best, bestProfit = &c, p
		}
	}
	return best, nil
}

// Static always returns the same parameters.
type Static struct {
	Params model.TradeParams
}

func (s Static) Optimize(context.Context, []model.Candle) (*model.TradeParams, error) {
	p := s.Params
	return &p, nil
}

var (
	_ strategy.Optimizer = (*CandidateOptimizer)(nil)
	_ strategy.Optimizer = Static{}
)
