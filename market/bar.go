package market

import (
	"math"
	"strings"
	"time"
)

// Level is one price/volume rung of an order book.
type Level struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Depth is the tick-level book snapshot: three bid/ask levels plus the last trade.
type Depth struct {
	Bids       [3]Level `json:"bids"`
	Asks       [3]Level `json:"asks"`
	Last       float64  `json:"last"`
	LastVolume float64  `json:"last_volume"`
}

// BestBid returns the top bid price, 0 when the book side is empty.
func (d Depth) BestBid() float64 { return d.Bids[0].Price }

// BestAsk returns the top ask price, 0 when the book side is empty.
func (d Depth) BestAsk() float64 { return d.Asks[0].Price }

// Bar is an immutable snapshot of one instrument at one time step.
// A Bar with a non-nil Depth is a tick.
type Bar struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`

	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     float64 `json:"v"`
	PutThrough float64 `json:"p,omitempty"`
	// AdjRatio relates adjusted and unadjusted closes: Unadjusted = Close * e^AdjRatio.
	AdjRatio   float64 `json:"a,omitempty"`
	Shares     float64 `json:"s,omitempty"`
	Unadjusted float64 `json:"u,omitempty"`
	UnadjOpen  float64 `json:"f,omitempty"`

	Fields Fields `json:"fields,omitempty"`
	Depth  *Depth `json:"depth,omitempty"`
}

// IsTick reports whether the bar carries an order book snapshot.
func (b Bar) IsTick() bool { return b.Depth != nil }

// Mark is the price used to value positions: last trade for ticks, close otherwise.
func (b Bar) Mark() float64 {
	if b.Depth != nil && b.Depth.Last > 0 {
		return b.Depth.Last
	}
	return b.Close
}

// UnadjustedClose returns u, deriving it from c and a when u is missing.
func (b Bar) UnadjustedClose() float64 {
	if b.Unadjusted != 0 {
		return b.Unadjusted
	}
	return b.Close * math.Exp(b.AdjRatio)
}

// Get looks a field up by its one-letter code, long name, or extra field name.
func (b Bar) Get(name string) (Value, bool) {
	switch strings.ToLower(name) {
	case "o", "open":
		return Num(b.Open), true
	case "h", "high":
		return Num(b.High), true
	case "l", "low":
		return Num(b.Low), true
	case "c", "close":
		return Num(b.Close), true
	case "v", "volume":
		return Num(b.Volume), true
	case "p", "putthrough":
		return Num(b.PutThrough), true
	case "a", "adjratio":
		return Num(b.AdjRatio), true
	case "s", "shares":
		return Num(b.Shares), true
	case "u", "unadjusted":
		return Num(b.UnadjustedClose()), true
	case "f", "unadjopen":
		return Num(b.UnadjOpen), true
	}
	return b.Fields.Get(name)
}

// Number is Get restricted to numeric fields.
func (b Bar) Number(name string) (float64, bool) {
	v, ok := b.Get(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Dividend returns the cash dividend per share announced on this bar.
func (b Bar) Dividend() (float64, bool) {
	d, ok := b.Fields.Number(FieldDividend)
	return d, ok && d > 0
}

// Split returns the price factor of a split on this bar (0.5 for a 2:1 split).
func (b Bar) Split() (float64, bool) {
	f, ok := b.Fields.Number(FieldSplit)
	return f, ok && f > 0 && f != 1
}

// Reserved event field names.
const (
	FieldDividend = "dividend"
	FieldSplit    = "split"
)

// ParseBarFields expands a bar field selection ("ohlcv", "ohlc,pe,eps") into field names.
// Single letters from the standard set are expanded individually; comma separated
// tokens longer than one rune are kept as-is.
func ParseBarFields(sel string) []string {
	if strings.TrimSpace(sel) == "" {
		sel = "ohlcv"
	}
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, tok := range strings.Split(sel, ",") {
		tok = strings.TrimSpace(tok)
		if isLetterSet(tok) {
			for _, r := range tok {
				add(string(r))
			}
			continue
		}
		add(tok)
	}
	return out
}

func isLetterSet(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !strings.ContainsRune("ohlcvpasuf", r) {
			return false
		}
	}
	return true
}
