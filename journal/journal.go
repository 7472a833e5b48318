// Package journal persists what a run did: the run summary, every trade,
// the equity curve and the values strategies record each bar.
package journal

import (
	"time"

	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
)

type TradeRecord struct {
	RunID      string
	TradeID    string
	Symbol     string
	Side       string
	Volume     float64 // opened volume, signed
	OpenPrice  float64
	ClosePrice float64
	OpenTime   time.Time
	CloseTime  time.Time
	Bars       int
	Days       int
	PnL        float64
	Status     string
	Reason     string
}

// FromTrade converts a ledger trade into its journal row.
func FromTrade(runID string, t ledger.Trade) TradeRecord {
	return TradeRecord{
		RunID:      runID,
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Volume:     t.OpenVolume,
		OpenPrice:  t.OpenPrice,
		ClosePrice: t.ClosePrice,
		OpenTime:   t.OpenTime,
		CloseTime:  t.CloseTime,
		Bars:       t.Bars,
		Days:       t.Days,
		PnL:        t.PnL,
		Status:     string(t.Status),
		Reason:     t.Reason,
	}
}

type EquitySnapshot struct {
	RunID      string
	Time       time.Time
	Bar        int
	Cash       float64
	Equity     float64
	Realized   float64
	Unrealized float64
	Positions  int
}

// Record is the payload a strategy records for one bar.
type Record struct {
	RunID string
	Bar   int
	Time  time.Time
	Data  map[string]market.Value
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	RecordValues(Record) error
	Close() error
}

// RunRecorder is implemented by journals that keep run summaries.
type RunRecorder interface {
	RecordRun(Run) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error     { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordValues(Record) error         { return nil }
func (Nop) Close() error                      { return nil }
