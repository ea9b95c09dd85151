package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, r.Duration)
	assert.Equal(t, 900, r.Seconds())

	_, err = ParseResolution("2m")
	assert.Error(t, err)
}

func TestParseResolutions_RejectsUnknown(t *testing.T) {
	_, err := ParseResolutions([]string{"1m", "4h"})
	assert.Error(t, err)

	rs, err := ParseResolutions([]string{"1m", " 5m", "1m", ""})
	require.NoError(t, err)
	assert.Equal(t, []Resolution{Res1m, Res5m}, rs)
}

func TestResolution_Truncate(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	ts := time.Date(2024, 3, 1, 13, 47, 31, 500, jst)

	cases := []struct {
		res  Resolution
		want time.Time
	}{
		{Res1m, time.Date(2024, 3, 1, 13, 47, 0, 0, jst)},
		{Res5m, time.Date(2024, 3, 1, 13, 45, 0, 0, jst)},
		{Res15m, time.Date(2024, 3, 1, 13, 45, 0, 0, jst)},
		{Res30m, time.Date(2024, 3, 1, 13, 30, 0, 0, jst)},
		{Res1h, time.Date(2024, 3, 1, 13, 0, 0, 0, jst)},
	}
	for _, tc := range cases {
		got := tc.res.Truncate(ts)
		assert.True(t, tc.want.Equal(got), "%s: want %v got %v", tc.res, tc.want, got)
		assert.Equal(t, jst, got.Location())
	}
}

func TestResolution_TruncateBoundaryFloorsToItself(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	for _, r := range AllResolutions {
		got := r.Truncate(ts)
		assert.False(t, got.After(ts), "%s bucket after tick", r)
		assert.True(t, r.Truncate(got).Equal(got), "%s not idempotent", r)
	}
	assert.True(t, Res30m.Truncate(ts).Equal(ts))
	assert.True(t, Res1h.Truncate(ts).Equal(time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)))
}

func TestResolution_TruncateHalfHourOffset(t *testing.T) {
	ist := time.FixedZone("IST", 5*60*60+30*60)
	ts := time.Date(2024, 3, 1, 9, 12, 0, 0, ist)
	got := Res1h.Truncate(ts)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 0, got.Minute())
}

func TestSeriesKey_String(t *testing.T) {
	assert.Equal(t, "BTC_5M", SeriesKey{Symbol: "BTC", Resolution: "5m"}.String())
}

func TestValidSymbol(t *testing.T) {
	assert.True(t, ValidSymbol("BTC"))
	assert.True(t, ValidSymbol("BTC_JPY"))
	assert.False(t, ValidSymbol("BTC-JPY"))
	assert.False(t, ValidSymbol(""))
	assert.False(t, SeriesKey{Symbol: "ETH/JPY", Resolution: "1m"}.Valid())
	assert.True(t, SeriesKey{Symbol: "ETH", Resolution: "1m"}.Valid())
}

func TestTick_Mid(t *testing.T) {
	assert.Equal(t, 101.0, Tick{Ask: 102, Bid: 100}.Mid())
}
