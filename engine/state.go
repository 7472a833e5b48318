package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/robusta/market"
)

// Phase of a run.
type Phase int

const (
	Warmup Phase = iota
	Trading
	Closing
	Done
)

func (p Phase) String() string {
	switch p {
	case Warmup:
		return "warmup"
	case Trading:
		return "trading"
	case Closing:
		return "closing"
	}
	return "done"
}

// Reserved State keys, refreshed by the engine before every bar.
const (
	KeyBar        = "bar"
	KeyDate       = "date"
	KeyMode       = "mode"
	KeyMarket     = "market"
	KeyLookback   = "lookback"
	KeyData       = "data"
	KeyIsUnstable = "isUnstable"
	KeyIsLookback = "isLookback"
)

var reserved = map[string]bool{
	KeyBar: true, KeyDate: true, KeyMode: true, KeyMarket: true,
	KeyLookback: true, KeyData: true, KeyIsUnstable: true, KeyIsLookback: true,
}

// ErrReservedKey is returned when strategy code writes an engine-owned key.
var ErrReservedKey = errors.New("reserved state key")

// State is the key-value bag strategy code keeps across bars. Reserved keys
// are readable but only the engine writes them.
type State struct {
	vals map[string]market.Value
}

func NewState() *State {
	return &State{vals: make(map[string]market.Value)}
}

func (s *State) Get(key string) (market.Value, bool) {
	v, ok := s.vals[key]
	return v, ok
}

// Float returns a numeric value or def when the key is absent or not numeric.
func (s *State) Float(key string, def float64) float64 {
	if v, ok := s.vals[key]; ok {
		if f, ok := v.Float(); ok {
			return f
		}
	}
	return def
}

func (s *State) Set(key string, v market.Value) error {
	if reserved[key] {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	s.vals[key] = v
	return nil
}

func (s *State) Delete(key string) error {
	if reserved[key] {
		return fmt.Errorf("%w: %q", ErrReservedKey, key)
	}
	delete(s.vals, key)
	return nil
}

// Keys returns the user keys in sorted order.
func (s *State) Keys() []string {
	out := make([]string, 0, len(s.vals))
	for k := range s.vals {
		if !reserved[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *State) set(key string, v market.Value) { s.vals[key] = v }

// user copies the strategy-owned entries.
func (s *State) user() map[string]market.Value {
	out := make(map[string]market.Value)
	for _, k := range s.Keys() {
		out[k] = s.vals[k]
	}
	return out
}

func flag(b bool) market.Value {
	if b {
		return market.Num(1)
	}
	return market.Num(0)
}
