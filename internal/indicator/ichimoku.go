package indicator

// Ichimoku window lengths.
const (
	IchimokuTenkan = 9
	IchimokuKijun  = 26
	IchimokuSenkou = 52
)

// Cloud holds the five Ichimoku lines, each the same length as the input.
type Cloud struct {
	Tenkan  []float64
	Kijun   []float64
	SenkouA []float64
	SenkouB []float64
	Chikou  []float64
}

// Ichimoku computes the cloud from close prices only.
//
// Tenkan, kijun and senkou B are midpoints of the preceding 9, 26 and 52
// closes (the current close is not included). Senkou A is the tenkan/kijun
// midpoint. Both senkou spans are displaced forward by 26 bars and chikou is
// the close 26 bars back. Values that cannot be computed are 0.
func Ichimoku(prices []float64) Cloud {
	n := len(prices)
	c := Cloud{
		Tenkan:  make([]float64, n),
		Kijun:   make([]float64, n),
		SenkouA: make([]float64, n),
		SenkouB: make([]float64, n),
		Chikou:  make([]float64, n),
	}

	spanA := make([]float64, n)
	spanB := make([]float64, n)
	for i := 0; i < n; i++ {
		if i >= IchimokuTenkan {
			c.Tenkan[i] = midpoint(prices[i-IchimokuTenkan : i])
		}
		if i >= IchimokuKijun {
			c.Kijun[i] = midpoint(prices[i-IchimokuKijun : i])
			spanA[i] = (c.Tenkan[i] + c.Kijun[i]) / 2
			c.Chikou[i] = prices[i-IchimokuKijun]
		}
		if i >= IchimokuSenkou {
			spanB[i] = midpoint(prices[i-IchimokuSenkou : i])
		}
	}
	for i := IchimokuKijun; i < n; i++ {
		c.SenkouA[i] = spanA[i-IchimokuKijun]
		c.SenkouB[i] = spanB[i-IchimokuKijun]
	}
	return c
}

func midpoint(window []float64) float64 {
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return (lo + hi) / 2
}
