package indicator

// MACD calculates the moving average convergence/divergence line
// (EMA(fast) - EMA(slow)) and its signal line (EMA of the MACD line).
type MACD struct {
	fast, slow, signal *Smoothed
	line               float64
}

// NewMACD creates a MACD with the usual (12, 26, 9) style periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Hist returns MACD minus signal.
func (m *MACD) Hist() float64 { return m.line - m.signal.Value() }

// Ready is true once the signal line has a value.
func (m *MACD) Ready() bool { return m.signal.Ready() }

// MACDSeries returns the MACD line, signal line and histogram for prices.
// All three are NaN until the signal line is ready.
func MACDSeries(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (macd, signal, hist []float64) {
	n := len(prices)
	macd, signal, hist = nanSlice(n), nanSlice(n), nanSlice(n)
	m := NewMACD(fastPeriod, slowPeriod, signalPeriod)
	for i, p := range prices {
		m.Update(p)
		if !m.Ready() {
			continue
		}
		macd[i] = m.Value()
		signal[i] = m.Signal()
		hist[i] = m.Hist()
	}
	return macd, signal, hist
}
