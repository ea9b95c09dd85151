// Package indicator provides technical indicator calculations over close
// prices.
//
// Streaming indicators implement Indicator and are O(1) per update. The
// series functions (EMASeries, SMASeries, BBands, RSISeries, MACDSeries,
// Ichimoku) run over a whole window and return slices of the same length as the input, padded with
// NaN until the indicator is ready. Ichimoku pads with zeros instead, which the
// cloud detector relies on.
package indicator

import "math"

// Indicator is the interface for streaming indicators.
type Indicator interface {
	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// run feeds prices through ind and collects Value() once Ready.
func run(ind Indicator, prices []float64) []float64 {
	out := nanSlice(len(prices))
	for i, p := range prices {
		ind.Update(p)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
