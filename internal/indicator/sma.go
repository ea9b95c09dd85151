package indicator

import "math"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	sumSq   float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Update(price float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		old := s.buf[s.idx]
		s.sum -= old
		s.sumSq -= old * old
	}

	s.buf[s.idx] = price
	s.sum += price
	s.sumSq += price * price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// StdDev returns the population standard deviation of the current window.
func (s *SMA) StdDev() float64 {
	if !s.Ready() {
		return 0
	}
	n := float64(s.period)
	mean := s.sum / n
	v := s.sumSq/n - mean*mean
	if v < 0 {
		// rounding on a flat window
		return 0
	}
	return math.Sqrt(v)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.sumSq = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// SMASeries returns the SMA of prices, NaN before the first full period.
func SMASeries(prices []float64, period int) []float64 {
	return run(NewSMA(period), prices)
}

// BBands returns the upper, middle and lower Bollinger bands: SMA(n) plus and
// minus k population standard deviations. NaN before the first full window.
func BBands(prices []float64, n int, k float64) (upper, middle, lower []float64) {
	upper, middle, lower = nanSlice(len(prices)), nanSlice(len(prices)), nanSlice(len(prices))
	sma := NewSMA(n)
	for i, p := range prices {
		sma.Update(p)
		if !sma.Ready() {
			continue
		}
		mid, dev := sma.Value(), sma.StdDev()
		middle[i] = mid
		upper[i] = mid + k*dev
		lower[i] = mid - k*dev
	}
	return upper, middle, lower
}
