package strategy

import (
	"context"

	"tradeengine/internal/ledger"
	"tradeengine/internal/model"
)

// Backtest replays params over candles on a fresh in-memory ledger and
// returns it. Fills use the candle close with size 1.
func Backtest(ctx context.Context, symbol string, candles []model.Candle, params model.TradeParams, stopLimitPercent float64) (*ledger.Ledger, error) {
	l := ledger.New(nil, nil)
	e := New(Config{
		Symbol:           symbol,
		StopLimitPercent: stopLimitPercent,
		BackTest:         true,
	}, Deps{Ledger: l})
	if err := e.Evaluate(ctx, candles, params); err != nil {
		return nil, err
	}
	return l, nil
}
