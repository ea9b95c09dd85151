package strategy

import (
	"tradeengine/internal/indicator"
	"tradeengine/internal/model"
)

// detector votes on candle i by comparing precomputed series at i-1 and i.
// NaN values compare false, so a detector never fires before its indicator
// is ready.
type detector interface {
	name() string
	vote(i int) (buy, sell bool)
}

type voteFunc struct {
	label string
	fn    func(i int) (bool, bool)
}

func (v voteFunc) name() string            { return v.label }
func (v voteFunc) vote(i int) (bool, bool) { return v.fn(i) }

// buildDetectors precomputes the indicator series for every enabled detector.
func buildDetectors(candles []model.Candle, p model.TradeParams) []detector {
	closes := model.Closes(candles)
	var out []detector
	if p.EMAEnable {
		out = append(out, emaCross(closes, p.EMAPeriod1, p.EMAPeriod2))
	}
	if p.BBEnable {
		out = append(out, bbBreakout(candles, closes, p.BBN, p.BBK))
	}
	if p.IchimokuEnable {
		out = append(out, ichimokuCloud(candles, closes))
	}
	if p.MACDEnable {
		out = append(out, macdCross(closes, p.MACDFastPeriod, p.MACDSlowPeriod, p.MACDSignalPeriod))
	}
	if p.RSIEnable {
		out = append(out, rsiThreshold(closes, p.RSIPeriod, p.RSIBuyThread, p.RSISellThread))
	}
	return out
}

// emaCross fires when the fast EMA crosses the slow one.
func emaCross(closes []float64, period1, period2 int) detector {
	fast := indicator.EMASeries(closes, period1)
	slow := indicator.EMASeries(closes, period2)
	return voteFunc{"ema", func(i int) (buy, sell bool) {
		if period1 > i || period2 > i {
			return false, false
		}
		buy = fast[i-1] < slow[i-1] && fast[i] >= slow[i]
		sell = fast[i-1] > slow[i-1] && fast[i] <= slow[i]
		return buy, sell
	}}
}

// bbBreakout fires when the close re-enters the bands from outside.
func bbBreakout(candles []model.Candle, closes []float64, n int, k float64) detector {
	up, _, down := indicator.BBands(closes, n, k)
	return voteFunc{"bbands", func(i int) (buy, sell bool) {
		if n > i {
			return false, false
		}
		buy = down[i-1] > candles[i-1].Close && down[i] <= candles[i].Close
		sell = up[i-1] < candles[i-1].Close && up[i] >= candles[i].Close
		return buy, sell
	}}
}

// ichimokuCloud fires when chikou crosses price with the cloud on the far
// side and tenkan confirming direction.
func ichimokuCloud(candles []model.Candle, closes []float64) detector {
	c := indicator.Ichimoku(closes)
	return voteFunc{"ichimoku", func(i int) (buy, sell bool) {
		prev, cur := candles[i-1], candles[i]
		buy = c.Chikou[i-1] < prev.High &&
			c.Chikou[i] >= cur.High &&
			c.SenkouA[i] < cur.Low &&
			c.SenkouB[i] < cur.Low &&
			c.Tenkan[i] > c.Kijun[i]
		sell = c.Chikou[i-1] > prev.Low &&
			c.Chikou[i] <= cur.Low &&
			c.SenkouA[i] > cur.High &&
			c.SenkouB[i] > cur.High &&
			c.Tenkan[i] < c.Kijun[i]
		return buy, sell
	}}
}

// macdCross fires on a signal-line cross on the far side of zero.
func macdCross(closes []float64, fast, slow, signal int) detector {
	macd, sig, _ := indicator.MACDSeries(closes, fast, slow, signal)
	return voteFunc{"macd", func(i int) (buy, sell bool) {
		buy = macd[i] < 0 && sig[i] < 0 && macd[i-1] < sig[i-1] && macd[i] >= sig[i]
		sell = macd[i] > 0 && sig[i] > 0 && macd[i-1] > sig[i-1] && macd[i] <= sig[i]
		return buy, sell
	}}
}

// rsiThreshold fires when RSI crosses the buy threshold upward or the sell
// threshold downward. Saturated previous values (0 or 100) are skipped.
func rsiThreshold(closes []float64, period int, buyThread, sellThread float64) detector {
	rsi := indicator.RSISeries(closes, period)
	return voteFunc{"rsi", func(i int) (buy, sell bool) {
		if rsi[i-1] == 0 || rsi[i-1] == 100 {
			return false, false
		}
		buy = rsi[i-1] < buyThread && rsi[i] >= buyThread
		sell = rsi[i-1] > sellThread && rsi[i] <= sellThread
		return buy, sell
	}}
}
