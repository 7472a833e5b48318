package market

import (
	"sort"
	"time"
)

// Slice is the data of all tracked tickers at one bar index.
type Slice map[string]Bar

// Symbols returns the tickers in the slice in sorted order.
func (s Slice) Symbols() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Marks returns the valuation price per ticker.
func (s Slice) Marks() map[string]float64 {
	out := make(map[string]float64, len(s))
	for sym, b := range s {
		out[sym] = b.Mark()
	}
	return out
}

// Universe yields the tickers valid as of a date.
type Universe interface {
	Universe(date time.Time) []string
}

// StaticUniverse is a fixed asset list.
type StaticUniverse []string

func (u StaticUniverse) Universe(time.Time) []string {
	out := make([]string, len(u))
	copy(out, u)
	return out
}
