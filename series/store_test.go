package series

import (
	"testing"

	"github.com/rustyeddy/robusta/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingOrderAndEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{5, 4, 3}, r.Last(10))

	v, ok := r.At(0)
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	_, ok = r.At(3)
	assert.False(t, ok)

	r.Replace(50)
	assert.Equal(t, []int{50, 4}, r.Last(2))
}

func TestRingGrowKeepsHistory(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Grow(4)
	assert.Equal(t, 4, r.Cap())
	assert.Equal(t, []int{3, 2}, r.Last(4))

	r.Push(4)
	r.Push(5)
	assert.Equal(t, []int{5, 4, 3, 2}, r.Last(4))
}

func TestSeriesMostRecentFirstAndIdempotent(t *testing.T) {
	s := NewStore(4)
	for bar, price := range []float64{10, 11, 12} {
		s.Begin(bar)
		got := s.Series("sma", market.Num(price), 3)
		again := s.Series("sma", market.Num(price), 3)
		assert.Equal(t, got, again, "same call within a bar must return the same values")

		f, _ := got[0].Float()
		assert.Equal(t, price, f, "element 0 is the current bar")
	}
	assert.Equal(t, []float64{12, 11, 10}, s.Floats("sma", 3))
}

func TestUnstableUntilDepthReached(t *testing.T) {
	s := NewStore(1)
	key := Key("X", "c")

	s.Begin(0)
	s.Observe(key, market.Num(1))
	s.Window(key, 3)
	assert.True(t, s.Unstable())

	s.Begin(1)
	s.Observe(key, market.Num(2))
	assert.True(t, s.Unstable())

	s.Begin(2)
	s.Observe(key, market.Num(3))
	assert.False(t, s.Unstable())
	assert.Equal(t, []float64{3, 2, 1}, s.Floats(key, 3))
	assert.GreaterOrEqual(t, s.Depth(), 3)
}

func TestHeterogeneousValues(t *testing.T) {
	s := NewStore(2)
	s.Begin(0)
	s.Observe("evt", market.Text("D"))
	s.Begin(1)
	s.Observe("evt", market.Object(map[string]market.Value{"ratio": market.Num(0.5)}))

	vals := s.Window("evt", 2)
	require.Len(t, vals, 2)
	assert.Equal(t, market.KindObject, vals[0].Kind())
	assert.Equal(t, market.KindText, vals[1].Kind())
}

func TestSnapshotRestore(t *testing.T) {
	s := NewStore(3)
	for bar := 0; bar < 5; bar++ {
		s.Begin(bar)
		s.Observe("k", market.Num(float64(bar)))
	}
	s.Window("k", 3)

	r := Restore(s.Snapshot())
	assert.Equal(t, s.Floats("k", 3), r.Floats("k", 3))
	assert.Equal(t, 4, r.Bar())

	r.Begin(5)
	r.Observe("k", market.Num(5))
	assert.Equal(t, []float64{5, 4, 3}, r.Floats("k", 3))
}
