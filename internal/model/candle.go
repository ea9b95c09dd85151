package model

import "time"

// Candle is one OHLCV bar for a (symbol, resolution, bucket start) key.
type Candle struct {
	Symbol     string    `json:"symbol"`
	Resolution string    `json:"resolution"`
	Time       time.Time `json:"time"` // bucket start in market-local time
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Key returns the series this candle belongs to.
func (c *Candle) Key() SeriesKey {
	return SeriesKey{Symbol: c.Symbol, Resolution: c.Resolution}
}

// Closes extracts the close-price series from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
