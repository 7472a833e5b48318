package series

import (
	"sort"

	"github.com/rustyeddy/robusta/market"
)

type entry struct {
	ring  *Ring[market.Value]
	stamp int // bar of the most recent observation
}

// Store holds one ring per (ticker, field) or strategy key. Observations are
// appended once per bar; a second observation in the same bar replaces the first.
type Store struct {
	depth     int
	bar       int
	rings     map[string]*entry
	requested map[string]int
}

// NewStore creates a store whose rings start with the given depth.
func NewStore(depth int) *Store {
	if depth < 1 {
		depth = 1
	}
	return &Store{
		depth:     depth,
		bar:       -1,
		rings:     make(map[string]*entry),
		requested: make(map[string]int),
	}
}

// Key names the ring of a bar field.
func Key(symbol, field string) string { return symbol + "/" + field }

// Depth is the capacity new rings are created with.
func (s *Store) Depth() int { return s.depth }

// Bar is the bar the store currently appends to.
func (s *Store) Bar() int { return s.bar }

// Begin starts a new bar. Bars must increase.
func (s *Store) Begin(bar int) {
	if bar > s.bar {
		s.bar = bar
	}
}

// Observe records v as the current-bar value of key.
func (s *Store) Observe(key string, v market.Value) {
	e, ok := s.rings[key]
	if !ok {
		e = &entry{ring: NewRing[market.Value](s.depth), stamp: -1}
		s.rings[key] = e
	}
	if e.stamp == s.bar {
		e.ring.Replace(v)
		return
	}
	e.ring.Push(v)
	e.stamp = s.bar
}

// Series observes v under key and returns the last n observations, most recent first.
func (s *Store) Series(key string, v market.Value, n int) []market.Value {
	s.Observe(key, v)
	return s.Window(key, n)
}

// Window returns up to n observations of key without recording anything.
// The request depth is remembered for Unstable.
func (s *Store) Window(key string, n int) []market.Value {
	if n < 1 {
		n = 1
	}
	if n > s.requested[key] {
		s.requested[key] = n
	}
	if n > s.depth {
		s.depth = n
	}
	e, ok := s.rings[key]
	if !ok {
		return nil
	}
	e.ring.Grow(n)
	return e.ring.Last(n)
}

// Floats is Window restricted to numeric values; non-numeric entries become 0.
func (s *Store) Floats(key string, n int) []float64 {
	vals := s.Window(key, n)
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i], _ = v.Float()
	}
	return out
}

// Len returns the number of observations held for key.
func (s *Store) Len(key string) int {
	if e, ok := s.rings[key]; ok {
		return e.ring.Len()
	}
	return 0
}

// Unstable reports whether any requested series holds fewer entries than requested.
func (s *Store) Unstable() bool {
	for key, n := range s.requested {
		if s.Len(key) < n {
			return true
		}
	}
	return false
}

// Snapshot is the serialisable content of a store.
type Snapshot struct {
	Depth     int                       `json:"depth"`
	Bar       int                       `json:"bar"`
	Series    map[string][]market.Value `json:"series"` // oldest first
	Stamps    map[string]int            `json:"stamps"`
	Requested map[string]int            `json:"requested"`
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Depth:     s.depth,
		Bar:       s.bar,
		Series:    make(map[string][]market.Value, len(s.rings)),
		Stamps:    make(map[string]int, len(s.rings)),
		Requested: make(map[string]int, len(s.requested)),
	}
	for key, e := range s.rings {
		vals := e.ring.Last(e.ring.Len())
		for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
			vals[i], vals[j] = vals[j], vals[i]
		}
		snap.Series[key] = vals
		snap.Stamps[key] = e.stamp
	}
	for key, n := range s.requested {
		snap.Requested[key] = n
	}
	return snap
}

// Restore rebuilds a store from a snapshot.
func Restore(snap Snapshot) *Store {
	s := NewStore(snap.Depth)
	s.bar = snap.Bar
	keys := make([]string, 0, len(snap.Series))
	for key := range snap.Series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		vals := snap.Series[key]
		capacity := s.depth
		if len(vals) > capacity {
			capacity = len(vals)
		}
		r := NewRing[market.Value](capacity)
		for _, v := range vals {
			r.Push(v)
		}
		s.rings[key] = &entry{ring: r, stamp: snap.Stamps[key]}
	}
	for key, n := range snap.Requested {
		s.requested[key] = n
	}
	return s
}
