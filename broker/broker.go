// Package broker defines the capability set the engine trades through and the
// lot and settlement rules shared by the simulated and live variants.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/robusta/ledger"
)

var (
	// ErrOrderRejected means the broker declined the order. The instruction
	// is dropped and the run continues.
	ErrOrderRejected = errors.New("order rejected")
	// ErrBrokerUnavailable means the transport timed out or disconnected.
	// The order counts as a zero fill.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Intent tells the broker whether an order opens or reduces exposure.
type Intent string

const (
	IntentOpen  Intent = "open"
	IntentClose Intent = "close"
)

// OrderRequest is a transient instruction to trade. Volume is unsigned.
type OrderRequest struct {
	ClientID string
	Symbol   string
	Side     ledger.Side
	Volume   float64
	Price    float64 // reference price used for sizing
	Intent   Intent
	TradeID  string
	// Full marks a close of the trade's whole remaining volume. Brokers fill
	// it as given instead of rounding it to lots.
	Full bool
	Time time.Time
}

type Broker interface {
	// RefineVolume rounds volume toward zero to a whole number of lots.
	RefineVolume(volume, price float64, symbol string) float64
	CanShort(symbol string) bool
	CanClose(t ledger.Trade) bool
	// Order returns the realized fill. Partial and zero fills are not errors.
	Order(ctx context.Context, req OrderRequest) (ledger.Fill, error)
}

// Notice is an asynchronous fill or rejection reported after Order returned.
type Notice struct {
	ClientID string
	Symbol   string
	Fill     ledger.Fill
	Err      error
}

// Notifier is implemented by brokers that report late fills.
type Notifier interface {
	Notices() <-chan Notice
}
