// Package indicators provides technical analysis indicators over bars.
//
// Two shapes are offered. The batch functions take a window of values most
// recent first, as returned by engine.Context.History. The streaming types
// consume one closed bar at a time.
package indicators

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/robusta/market"
)

// ErrNotEnoughData is returned by batch functions given a short window.
var ErrNotEnoughData = errors.New("not enough data")

// Indicator computes a single streaming value from bars. It is deterministic
// and safe to use in live and backtest runs.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}

func checkWindow(n, have, need int) error {
	if n <= 0 {
		return fmt.Errorf("period must be positive, got %d", n)
	}
	if have < need {
		return fmt.Errorf("%w: need %d, got %d", ErrNotEnoughData, need, have)
	}
	return nil
}
