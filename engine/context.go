package engine

import (
	"time"

	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/rustyeddy/robusta/rebalance"
	"github.com/rustyeddy/robusta/series"
	"github.com/rustyeddy/robusta/session"
)

// Context is what a strategy sees during one bar. It must not be retained
// after OnBar returns.
type Context struct {
	Bar      int
	Time     time.Time
	Date     time.Time
	Slot     session.Slot
	Mode     string
	RunMode  string
	Market   string
	Lookback int
	Assets   []string

	// Data holds the current bar of every tracked ticker. Tickers without a
	// fresh bar carry their last known bar.
	Data market.Slice

	Params map[string]any
	Vars   *State
	Trader *Trader

	store    *series.Store
	lookback bool
	requests []request
	records  map[string]market.Value
}

type request struct {
	weights map[string]float64
	dir     rebalance.Direction
}

// IsLookback is true during the first Lookback bars; orders are dropped then.
func (c *Context) IsLookback() bool { return c.lookback }

// IsUnstable is true while any requested series is shorter than its request.
func (c *Context) IsUnstable() bool { return c.store.Unstable() }

// Series records v under key for this bar and returns the last n values, most
// recent first.
func (c *Context) Series(key string, v market.Value, n int) []market.Value {
	return c.store.Series(key, v, n)
}

// SeriesFloat is Series for numbers.
func (c *Context) SeriesFloat(key string, v float64, n int) []float64 {
	c.store.Observe(key, market.Num(v))
	return c.store.Floats(key, n)
}

// History returns the last n values of a bar field of symbol, most recent first.
func (c *Context) History(symbol, field string, n int) []float64 {
	return c.store.Floats(series.Key(symbol, field), n)
}

// Record adds a value to this bar's record. A later write to the same key wins.
func (c *Context) Record(key string, v market.Value) {
	if c.records == nil {
		c.records = make(map[string]market.Value)
	}
	c.records[key] = v
}

func (c *Context) RecordFloat(key string, v float64) { c.Record(key, market.Num(v)) }

// OrderTarget asks to move the portfolio to weights. Held tickers absent from
// weights are closed.
func (c *Context) OrderTarget(weights map[string]float64) { c.queue(weights, rebalance.Both) }

// BuyTarget is OrderTarget restricted to buys.
func (c *Context) BuyTarget(weights map[string]float64) { c.queue(weights, rebalance.BuyOnly) }

// SellTarget is OrderTarget restricted to sells.
func (c *Context) SellTarget(weights map[string]float64) { c.queue(weights, rebalance.SellOnly) }

func (c *Context) queue(weights map[string]float64, dir rebalance.Direction) {
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	c.requests = append(c.requests, request{weights: cp, dir: dir})
}

// Close returns the current close of symbol.
func (c *Context) Close(symbol string) (float64, bool) {
	b, ok := c.Data[symbol]
	if !ok {
		return 0, false
	}
	return b.Close, true
}

// Param returns a numeric run parameter, or def when it is absent.
func (c *Context) Param(name string, def float64) float64 {
	raw, ok := c.Params[name]
	if !ok {
		return def
	}
	v, err := market.FromAny(raw)
	if err != nil {
		return def
	}
	if f, ok := v.Float(); ok {
		return f
	}
	return def
}

// ParamString returns a text run parameter, or def when it is absent.
func (c *Context) ParamString(name, def string) string {
	if s, ok := c.Params[name].(string); ok {
		return s
	}
	return def
}

// Trader is the read-only view of the ledger exposed to strategies.
type Trader struct {
	l     *ledger.Ledger
	rules rebalance.Rules
	marks map[string]float64
}

func (t *Trader) Cash() float64     { return t.l.Cash() }
func (t *Trader) Realized() float64 { return t.l.Realized() }

// Equity is cash plus open positions at the current marks.
func (t *Trader) Equity() float64 { return t.l.Equity(t.marks) }

func (t *Trader) Unrealized() float64 { return t.l.Unrealized(t.marks) }

func (t *Trader) Position(symbol string) float64 { return t.l.Position(symbol) }

func (t *Trader) Symbols() []string { return t.l.Symbols() }

func (t *Trader) OpenTrades(symbol string) []ledger.Trade { return t.l.OpenTrades(symbol) }

func (t *Trader) Trades(f ledger.Filter) []ledger.Trade { return t.l.Trades(f) }

func (t *Trader) CanShort(symbol string) bool { return t.rules.CanShort(symbol) }

func (t *Trader) CanClose(tr ledger.Trade) bool { return t.rules.CanClose(tr) }
