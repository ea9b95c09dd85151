package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Gains and losses are each an SMMA; Update is O(1) per price.
type RSI struct {
	period    int
	count     int
	prevClose float64
	gain      *Smoothed
	loss      *Smoothed
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period, gain: NewSMMA(period), loss: NewSMMA(period)}
}

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price: record it, no delta yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gain.Update(gain)
	r.loss.Update(loss)
}

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	avgLoss := r.loss.Value()
	if avgLoss == 0 {
		return 100.0
	}
	rs := r.gain.Value() / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Ready() bool { return r.period > 0 && r.count > r.period }

// RSISeries returns the RSI of prices, NaN for the first period values.
func RSISeries(prices []float64, period int) []float64 {
	return run(NewRSI(period), prices)
}
