package strategy

import (
	"testing"

	"tradeengine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func votesAt(d detector, n int) (buys, sells []int) {
	for i := 1; i < n; i++ {
		b, s := d.vote(i)
		if b {
			buys = append(buys, i)
		}
		if s {
			sells = append(sells, i)
		}
	}
	return buys, sells
}

func TestBuildDetectors_OnlyEnabled(t *testing.T) {
	candles := bars(1, 2, 3)
	assert.Empty(t, buildDetectors(candles, model.TradeParams{}))

	ds := buildDetectors(candles, model.TradeParams{
		EMAEnable: true, EMAPeriod1: 1, EMAPeriod2: 2,
		RSIEnable: true, RSIPeriod: 2,
		IchimokuEnable: true,
	})
	require.Len(t, ds, 3)
	assert.Equal(t, "ema", ds[0].name())
	assert.Equal(t, "ichimoku", ds[1].name())
	assert.Equal(t, "rsi", ds[2].name())
}

func TestEMACross(t *testing.T) {
	up := emaCross([]float64{10, 10, 10, 5, 20}, 1, 3)
	buys, sells := votesAt(up, 5)
	assert.Equal(t, []int{4}, buys)
	assert.Empty(t, sells)

	down := emaCross([]float64{10, 10, 10, 15, 1}, 1, 3)
	buys, sells = votesAt(down, 5)
	assert.Empty(t, buys)
	assert.Equal(t, []int{4}, sells)
}

func TestEMACross_GuardedByPeriods(t *testing.T) {
	d := emaCross([]float64{10, 10, 10, 5, 20}, 1, 5)
	buys, sells := votesAt(d, 5)
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}

func TestRSIThreshold_SkipsSaturated(t *testing.T) {
	d := rsiThreshold([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2, 30, 70)
	buys, sells := votesAt(d, 8)
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}

func TestRSIThreshold_CrossesSellThread(t *testing.T) {
	// RSI(2): 50 at index 2, ~83.3 at index 3, then a drop pulls it under 70
	d := rsiThreshold([]float64{10, 11, 10, 12, 9}, 2, 30, 70)
	_, sells := votesAt(d, 5)
	assert.Equal(t, []int{4}, sells)
}

func TestMACDCross_SilentBeforeReady(t *testing.T) {
	d := macdCross([]float64{5, 4, 3, 2, 1}, 12, 26, 9)
	buys, sells := votesAt(d, 5)
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}

func TestIchimoku_ShortWindowNeverFires(t *testing.T) {
	candles := bars(100, 101, 102, 103, 104)
	d := ichimokuCloud(candles, model.Closes(candles))
	buys, sells := votesAt(d, len(candles))
	assert.Empty(t, buys)
	assert.Empty(t, sells)
}
