package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/robusta/market"
)

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR is the Wilder average true range over n periods. high, low and close
// are most recent first and must have the same length, at least n+1.
func ATR(high, low, close []float64, n int) (float64, error) {
	if len(low) != len(high) || len(close) != len(high) {
		return 0, fmt.Errorf("atr: mismatched windows %d/%d/%d", len(high), len(low), len(close))
	}
	if err := checkWindow(n, len(high), n+1); err != nil {
		return 0, err
	}
	a := NewATR(n)
	for i := len(high) - 1; i >= 0; i-- {
		a.Update(market.Bar{High: high[i], Low: low[i], Close: close[i]})
	}
	return a.Value(), nil
}

// AverageTrueRange is the streaming form of ATR.
type AverageTrueRange struct {
	period    int
	atr       float64
	count     int
	warmupSum float64
	prevClose float64
	hasPrev   bool
}

func NewATR(period int) *AverageTrueRange { return &AverageTrueRange{period: period} }

func (a *AverageTrueRange) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

// Warmup is period+1: the first bar only seeds the previous close.
func (a *AverageTrueRange) Warmup() int { return a.period + 1 }

func (a *AverageTrueRange) Reset() { *a = AverageTrueRange{period: a.period} }

func (a *AverageTrueRange) Update(b market.Bar) {
	if !a.hasPrev {
		a.prevClose = b.Close
		a.hasPrev = true
		return
	}
	tr := trueRange(b.High, b.Low, a.prevClose)
	a.prevClose = b.Close
	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
		return
	}
	a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
}

func (a *AverageTrueRange) Ready() bool { return a.count >= a.period }

func (a *AverageTrueRange) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}
