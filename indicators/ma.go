package indicators

import (
	"fmt"

	"github.com/rustyeddy/robusta/market"
)

// SMA is the simple average of the n most recent values. values is most
// recent first.
func SMA(values []float64, n int) (float64, error) {
	if err := checkWindow(n, len(values), n); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range values[:n] {
		sum += v
	}
	return sum / float64(n), nil
}

// EMA seeds with the SMA of the oldest n values and smooths forward through
// the rest of the window. values is most recent first.
func EMA(values []float64, n int) (float64, error) {
	if err := checkWindow(n, len(values), n); err != nil {
		return 0, err
	}
	k := 2.0 / float64(n+1)
	last := len(values) - 1

	sum := 0.0
	for i := last; i > last-n; i-- {
		sum += values[i]
	}
	ema := sum / float64(n)
	for i := last - n; i >= 0; i-- {
		ema = (values[i]-ema)*k + ema
	}
	return ema, nil
}

// MovingAverage is a streaming simple moving average of closes.
type MovingAverage struct {
	period int
	buf    []float64
	next   int
	count  int
	sum    float64
}

func NewSMA(period int) *MovingAverage {
	return &MovingAverage{period: period, buf: make([]float64, period)}
}

func (m *MovingAverage) Name() string { return fmt.Sprintf("SMA(%d)", m.period) }
func (m *MovingAverage) Warmup() int  { return m.period }

func (m *MovingAverage) Reset() {
	clear(m.buf)
	m.next, m.count, m.sum = 0, 0, 0
}

func (m *MovingAverage) Update(b market.Bar) {
	if m.count == m.period {
		m.sum -= m.buf[m.next]
	} else {
		m.count++
	}
	m.buf[m.next] = b.Close
	m.sum += b.Close
	m.next = (m.next + 1) % m.period
}

func (m *MovingAverage) Ready() bool { return m.count >= m.period }

func (m *MovingAverage) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// ExponentialMA is a streaming exponential moving average of closes, seeded
// with the SMA of the first period closes.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *ExponentialMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *ExponentialMA) Warmup() int  { return e.period }

func (e *ExponentialMA) Reset() {
	e.ema, e.count, e.warmupSum = 0, 0, 0
}

func (e *ExponentialMA) Update(b market.Bar) {
	if e.count < e.period {
		e.warmupSum += b.Close
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (b.Close-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool { return e.count >= e.period }

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
