package indicator

// Smoothed is an exponentially smoothed average seeded with the simple
// average of its first period prices:
//
//	v = v + alpha*(price - v)
//
// EMA uses alpha = 2/(period+1); Wilder's SMMA uses alpha = 1/period.
type Smoothed struct {
	period int
	alpha  float64
	n      int
	seed   float64
	v      float64
}

// NewEMA creates an exponential moving average.
func NewEMA(period int) *Smoothed {
	return &Smoothed{period: period, alpha: 2 / float64(period+1)}
}

// NewSMMA creates a Wilder-smoothed moving average.
func NewSMMA(period int) *Smoothed {
	return &Smoothed{period: period, alpha: 1 / float64(period)}
}

func (s *Smoothed) Update(price float64) {
	s.n++
	switch {
	case s.n < s.period:
		s.seed += price
	case s.n == s.period:
		s.v = (s.seed + price) / float64(s.period)
	default:
		s.v += s.alpha * (price - s.v)
	}
}

func (s *Smoothed) Value() float64 { return s.v }
func (s *Smoothed) Ready() bool    { return s.period > 0 && s.n >= s.period }

// Reset clears the state for reuse.
func (s *Smoothed) Reset() { *s = Smoothed{period: s.period, alpha: s.alpha} }

// EMASeries returns the EMA of prices, NaN before the first full period.
func EMASeries(prices []float64, period int) []float64 {
	return run(NewEMA(period), prices)
}
