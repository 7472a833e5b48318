// Package ledger owns trade records: their lifecycle, PnL and counters.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Side of a trade. D and X are non-order rows for dividends and splits.
type Side string

const (
	Buy      Side = "B"
	Sell     Side = "S"
	Dividend Side = "D"
	Split    Side = "X"
)

// Sign returns +1 for long, -1 for short and 0 for event rows.
func (s Side) Sign() float64 {
	switch s {
	case Buy:
		return 1
	case Sell:
		return -1
	}
	return 0
}

// Opposite returns the side that reduces a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Status string

const (
	Pending  Status = "pending"
	Open     Status = "open"
	Closing  Status = "closing"
	Closed   Status = "closed"
	Canceled Status = "canceled"
)

// Active reports whether the trade carries market exposure.
func (s Status) Active() bool { return s == Open || s == Closing }

// Final reports whether the status can no longer change.
func (s Status) Final() bool { return s == Closed || s == Canceled }

var (
	ErrInvariant = errors.New("ledger invariant violation")
	ErrNotFound  = errors.New("trade not found")
	ErrStatus    = errors.New("invalid trade status transition")
)

// InvariantError reports corrupt trade state. It matches ErrInvariant.
type InvariantError struct {
	TradeID string
	Msg     string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: trade %s: %s", ErrInvariant, e.TradeID, e.Msg)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// Trade is the unit of position state. Volumes are signed: negative for shorts.
// Volume == OpenVolume - CloseVolume and |CloseVolume| <= |OpenVolume| always hold.
type Trade struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Side   Side   `json:"side"`

	Volume     float64   `json:"volume"`
	Requested  float64   `json:"requested"`
	OpenVolume float64   `json:"open_volume"`
	OpenPrice  float64   `json:"open_price"`
	OpenTime   time.Time `json:"open_time"`
	UpdateTime time.Time `json:"update_time"`

	Bars    int `json:"bars"`
	Days    int `json:"days"`
	LastDay int `json:"last_day"`

	CloseVolume float64   `json:"close_volume"`
	ClosePrice  float64   `json:"close_price"`
	CloseTime   time.Time `json:"close_time"`
	PnL         float64   `json:"pnl"`

	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Unrealized is the PnL of the open portion at mark.
func (t Trade) Unrealized(mark float64) float64 {
	if !t.Status.Active() {
		return 0
	}
	return (mark - t.OpenPrice) * t.Volume
}

// Fill is a broker execution applied to a trade. Volume is unsigned.
type Fill struct {
	Volume float64
	Price  float64
	Time   time.Time
}

const epsilon = 1e-9

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
