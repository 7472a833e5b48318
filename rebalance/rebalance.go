// Package rebalance turns target weights into order instructions.
//
// One canonical Plan computes every instruction; BuyTarget and SellTarget
// are direction filters over its output.
package rebalance

import (
	"fmt"
	"math"
	"sort"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/risk"
)

// Instruction is one order the rebalancer wants executed. Closes name the
// trade they reduce.
type Instruction struct {
	Symbol  string
	Side    ledger.Side
	Volume  float64 // unsigned
	Price   float64
	Intent  broker.Intent
	TradeID string
	Full    bool // close covers the trade's whole remaining volume
}

// Warning kinds produced while planning.
const (
	WarnShortRestricted = "short-restricted"
	WarnCloseLocked     = "close-locked"
	WarnLeverage        = "leverage"
	WarnNoPrice         = "no-price"
)

type Warning struct {
	Kind   string
	Symbol string
	Msg    string
}

// Holdings is the read view of the ledger the planner needs.
type Holdings interface {
	Symbols() []string
	OpenTrades(symbol string) []ledger.Trade
	Position(symbol string) float64
	Equity(marks map[string]float64) float64
}

// Rules is the broker subset consulted while planning.
type Rules interface {
	RefineVolume(volume, price float64, symbol string) float64
	CanShort(symbol string) bool
	CanClose(t ledger.Trade) bool
}

// Plan is the output of one rebalance call: closes first, then opens, each
// group ordered by symbol.
type Plan struct {
	Instructions []Instruction
	Warnings     []Warning
	Equity       float64
}

// Direction keeps instructions by side.
type Direction int

const (
	Both Direction = iota
	BuyOnly
	SellOnly
)

func (d Direction) keep(side ledger.Side) bool {
	switch d {
	case BuyOnly:
		return side == ledger.Buy
	case SellOnly:
		return side == ledger.Sell
	}
	return true
}

// OrderTarget plans both directions.
func OrderTarget(weights map[string]float64, h Holdings, r Rules, marks map[string]float64, p risk.Policy) Plan {
	return Compute(weights, h, r, marks, p, Both)
}

// BuyTarget keeps only buy instructions of the full plan.
func BuyTarget(weights map[string]float64, h Holdings, r Rules, marks map[string]float64, p risk.Policy) Plan {
	return Compute(weights, h, r, marks, p, BuyOnly)
}

// SellTarget keeps only sell instructions of the full plan.
func SellTarget(weights map[string]float64, h Holdings, r Rules, marks map[string]float64, p risk.Policy) Plan {
	return Compute(weights, h, r, marks, p, SellOnly)
}

// Compute sizes each symbol in weights, plus every held symbol not in weights
// at weight 0, to w * equity / price and emits the refined delta.
func Compute(weights map[string]float64, h Holdings, r Rules, marks map[string]float64, p risk.Policy, dir Direction) Plan {
	plan := Plan{Equity: h.Equity(marks)}

	decision := risk.CheckWeights(p, weights)
	for _, v := range decision.Violations {
		plan.Warnings = append(plan.Warnings, Warning{Kind: WarnLeverage, Symbol: v.Symbol, Msg: v.Msg})
		if v.Code == risk.CodeGrossTooHigh {
			// The whole call is a no-op, held symbols included.
			return plan
		}
	}
	rejected := map[string]bool{}
	for s := range weights {
		if _, ok := decision.Accepted[s]; !ok {
			rejected[s] = true
		}
	}

	targets := map[string]float64{}
	for s, w := range decision.Accepted {
		targets[s] = w
	}
	for _, s := range h.Symbols() {
		if _, ok := targets[s]; !ok && !rejected[s] {
			targets[s] = 0
		}
	}

	symbols := make([]string, 0, len(targets))
	for s := range targets {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var closes, opens []Instruction
	for _, s := range symbols {
		c, o, warns := plan.symbol(s, targets[s], h, r, marks)
		closes = append(closes, c...)
		opens = append(opens, o...)
		plan.Warnings = append(plan.Warnings, warns...)
	}

	for _, in := range append(closes, opens...) {
		if dir.keep(in.Side) {
			plan.Instructions = append(plan.Instructions, in)
		}
	}
	return plan
}

func (plan *Plan) symbol(s string, w float64, h Holdings, r Rules, marks map[string]float64) (closes, opens []Instruction, warns []Warning) {
	held := h.Position(s)
	price, ok := marks[s]
	if !ok || price <= 0 {
		if w != 0 || held != 0 {
			warns = append(warns, Warning{Kind: WarnNoPrice, Symbol: s, Msg: "no mark price"})
		}
		return nil, nil, warns
	}

	desired := 0.0
	if w != 0 {
		desired = w * plan.Equity / price
	}

	// Reduce the existing position toward desired, or fully when the sign flips.
	target := desired
	if held != 0 && (w == 0 || math.Signbit(desired) != math.Signbit(held)) {
		target = 0
	}
	if held != 0 && math.Abs(target) < math.Abs(held) {
		reduce := math.Abs(held) - math.Abs(target)
		if w != 0 && target != 0 {
			reduce = r.RefineVolume(reduce, price, s)
		}
		c, wr, closedAll := closeFIFO(s, reduce, price, h, r)
		closes = append(closes, c...)
		warns = append(warns, wr...)
		if !closedAll {
			return closes, nil, warns
		}
		held = math.Copysign(math.Abs(held)-reduce, held)
		if target == 0 {
			held = 0
		}
	}

	delta := desired - held
	if w == 0 || math.Abs(delta) == 0 || (held != 0 && math.Signbit(delta) != math.Signbit(held)) {
		return closes, nil, warns
	}

	vol := r.RefineVolume(math.Abs(delta), price, s)
	if vol <= 0 {
		return closes, nil, warns
	}
	side := ledger.Buy
	if delta < 0 {
		side = ledger.Sell
		if !r.CanShort(s) {
			warns = append(warns, Warning{Kind: WarnShortRestricted, Symbol: s,
				Msg: fmt.Sprintf("short of %v dropped: %s is not shortable", vol, s)})
			return closes, nil, warns
		}
	}
	opens = append(opens, Instruction{Symbol: s, Side: side, Volume: vol, Price: price, Intent: broker.IntentOpen})
	return closes, opens, warns
}

// closeFIFO emits close instructions against the oldest open trades of s until
// volume is covered. Locked trades are skipped with a warning.
func closeFIFO(s string, volume, price float64, h Holdings, r Rules) ([]Instruction, []Warning, bool) {
	var out []Instruction
	var warns []Warning
	remaining := volume
	for _, tr := range h.OpenTrades(s) {
		if remaining <= 0 {
			break
		}
		if !r.CanClose(tr) {
			warns = append(warns, Warning{Kind: WarnCloseLocked, Symbol: s,
				Msg: fmt.Sprintf("trade %s locked (held %d days)", tr.ID, tr.Days)})
			continue
		}
		v := math.Min(math.Abs(tr.Volume), remaining)
		// Summing positions can leave remaining a hair under the trade.
		full := remaining >= math.Abs(tr.Volume)-1e-9
		if full {
			v = math.Abs(tr.Volume)
		}
		out = append(out, Instruction{
			Symbol:  s,
			Side:    tr.Side.Opposite(),
			Volume:  v,
			Price:   price,
			Intent:  broker.IntentClose,
			TradeID: tr.ID,
			Full:    full,
		})
		remaining -= v
	}
	return out, warns, remaining <= 1e-9
}
