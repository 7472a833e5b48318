// Package id issues time-sortable ULID identifiers.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator issues ULIDs from a monotonic entropy source. Two generators with
// the same seed fed the same timestamps issue the same IDs, which keeps
// backtest ledgers reproducible.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
}

// NewGenerator returns a deterministic generator.
func NewGenerator(seed int64) *Generator {
	return &Generator{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// NewRandom returns a generator seeded from crypto/rand.
func NewRandom() *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewGenerator(seed)
}

// New returns a ULID stamped with t.
func (g *Generator) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.mono)
	if err != nil {
		// Only possible on entropy overflow within a single millisecond.
		panic(err)
	}
	return id.String()
}

var std = NewRandom()

// New returns a ULID stamped with the current time.
func New() string {
	return std.New(time.Now())
}
