package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/robusta/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 7, 45, 0, 0, time.UTC)

func newLedger(capital float64) *Ledger {
	return New(capital, id.NewGenerator(1))
}

func open(t *testing.T, l *Ledger, sym string, side Side, vol, price float64) *Trade {
	t.Helper()
	tr, err := l.Create(sym, side, vol, t0, 0)
	require.NoError(t, err)
	_, err = l.ApplyFill(tr.ID, Fill{Volume: vol, Price: price, Time: t0})
	require.NoError(t, err)
	return tr
}

func TestCreateIsPendingWithoutMarketEffect(t *testing.T) {
	l := newLedger(100)
	tr, err := l.Create("X", Buy, 10, t0, 0)
	require.NoError(t, err)

	assert.Equal(t, Pending, tr.Status)
	assert.Equal(t, 10.0, tr.Requested)
	assert.Equal(t, 0.0, tr.Volume)
	assert.Equal(t, 100.0, l.Cash())
	assert.Empty(t, l.Symbols())

	_, err = l.Create("X", Dividend, 10, t0, 0)
	assert.Error(t, err)
	_, err = l.Create("X", Buy, 0, t0, 0)
	assert.Error(t, err)
}

func TestApplyFillWeightedAverage(t *testing.T) {
	l := newLedger(1000)
	tr, err := l.Create("X", Buy, 10, t0, 0)
	require.NoError(t, err)

	_, err = l.ApplyFill(tr.ID, Fill{Volume: 4, Price: 10, Time: t0})
	require.NoError(t, err)
	_, err = l.ApplyFill(tr.ID, Fill{Volume: 6, Price: 15, Time: t0})
	require.NoError(t, err)

	got, _ := l.Get(tr.ID)
	assert.Equal(t, Open, got.Status)
	assert.Equal(t, 10.0, got.Volume)
	assert.InDelta(t, 13.0, got.OpenPrice, 1e-9)
	assert.InDelta(t, 1000-130.0, l.Cash(), 1e-9)

	_, err = l.ApplyFill(tr.ID, Fill{Volume: 1, Price: 15, Time: t0})
	assert.ErrorIs(t, err, ErrInvariant, "fills never exceed the requested volume")
}

func TestZeroFillCancelsPending(t *testing.T) {
	l := newLedger(100)
	tr, err := l.Create("X", Buy, 10, t0, 0)
	require.NoError(t, err)

	got, err := l.ApplyFill(tr.ID, Fill{Time: t0})
	require.NoError(t, err)
	assert.Equal(t, Canceled, got.Status)

	_, err = l.ApplyFill(tr.ID, Fill{Volume: 1, Price: 10})
	assert.ErrorIs(t, err, ErrStatus)
}

func TestPartialClosesRealizeOnlyClosedPortion(t *testing.T) {
	l := newLedger(1000)
	tr := open(t, l, "X", Buy, 10, 10)

	got, err := l.Close(tr.ID, Fill{Volume: 4, Price: 12, Time: t0}, "")
	require.NoError(t, err)
	assert.Equal(t, Closing, got.Status)
	assert.InDelta(t, 8.0, got.PnL, 1e-9)
	assert.InDelta(t, 6.0, got.Volume, 1e-9)
	assert.InDelta(t, 10.0, got.OpenPrice, 1e-9, "remaining portion keeps its open price")

	got, err = l.Close(tr.ID, Fill{Volume: 6, Price: 9, Time: t0}, "exit")
	require.NoError(t, err)
	assert.Equal(t, Closed, got.Status)
	assert.InDelta(t, 8.0-6.0, got.PnL, 1e-9)
	assert.Equal(t, got.OpenVolume, got.CloseVolume)
	assert.Equal(t, "exit", got.Reason)
	assert.InDelta(t, 2.0, l.Realized(), 1e-9)
	assert.InDelta(t, 1002.0, l.Cash(), 1e-9)

	_, err = l.Close(tr.ID, Fill{Volume: 1, Price: 9}, "")
	assert.ErrorIs(t, err, ErrStatus, "closed never regresses")
}

func TestShortPnL(t *testing.T) {
	l := newLedger(1000)
	tr := open(t, l, "X", Sell, 5, 20)
	assert.Equal(t, -5.0, tr.Volume)
	assert.Equal(t, -5.0, l.Position("X"))

	got, err := l.Close(tr.ID, Fill{Volume: 5, Price: 18, Time: t0}, "")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got.PnL, 1e-9)
	assert.InDelta(t, 1010.0, l.Cash(), 1e-9)
}

func TestCloseExceedingVolumeIsInvariantViolation(t *testing.T) {
	l := newLedger(1000)
	tr := open(t, l, "X", Buy, 10, 10)

	_, err := l.Close(tr.ID, Fill{Volume: 11, Price: 10}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))

	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, tr.ID, ie.TradeID)
}

func TestCloseAllAndCloseSymbol(t *testing.T) {
	l := newLedger(1000)
	open(t, l, "A", Buy, 1, 10)
	open(t, l, "A", Buy, 2, 11)
	open(t, l, "B", Sell, 3, 5)
	open(t, l, "C", Buy, 1, 1)

	closed, missing, err := l.CloseAll(map[string]float64{"A": 12, "B": 4}, t0, "EndOfRun")
	require.NoError(t, err)
	assert.Len(t, closed, 3)
	assert.Equal(t, []string{"C"}, missing)
	assert.Equal(t, []string{"C"}, l.Symbols())
	assert.InDelta(t, 2+2+3, l.Realized(), 1e-9)

	for _, tr := range closed {
		assert.Equal(t, "EndOfRun", tr.Reason)
	}
}

func TestCancel(t *testing.T) {
	l := newLedger(100)
	a, _ := l.Create("X", Buy, 1, t0, 0)
	b, _ := l.Create("X", Buy, 1, t0, 0)
	c, _ := l.Create("Y", Buy, 1, t0, 0)

	_, err := l.Cancel(a.ID, t0)
	require.NoError(t, err)
	got := l.CancelSymbol("X", t0)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	pending := l.Trades(Filter{Status: []Status{Pending}})
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	_, err = l.Cancel("nope", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkBarCounters(t *testing.T) {
	l := newLedger(1000)
	tr := open(t, l, "X", Buy, 1, 10)
	pending, _ := l.Create("X", Buy, 1, t0, 0)

	l.MarkBar(0, t0)
	l.MarkBar(0, t0)
	l.MarkBar(1, t0)
	l.MarkBar(3, t0)

	got, _ := l.Get(tr.ID)
	assert.Equal(t, 4, got.Bars)
	assert.Equal(t, 3, got.Days)

	p, _ := l.Get(pending.ID)
	assert.Equal(t, 0, p.Bars, "only trades in the market are counted")
}

func TestDividendAndSplitPreserveValue(t *testing.T) {
	tests := []struct {
		name   string
		kind   Side
		factor float64
	}{
		{"dividend", Dividend, 0.95},
		{"split", Split, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(1000)
			tr := open(t, l, "X", Buy, 10, 10)
			before := l.Equity(map[string]float64{"X": 10})

			adjusted, err := l.ApplyFactor("X", tt.kind, tt.factor, t0)
			require.NoError(t, err)
			require.Len(t, adjusted, 1)

			got, _ := l.Get(tr.ID)
			assert.InDelta(t, 10*tt.factor, got.OpenPrice, 1e-9)
			assert.InDelta(t, 10/tt.factor, got.Volume, 1e-9)
			assert.Equal(t, 0.0, got.PnL)
			assert.Equal(t, 0.0, l.Realized())
			assert.InDelta(t, before, l.Equity(map[string]float64{"X": 10 * tt.factor}), 1e-9)

			events := l.Events()
			require.Len(t, events, 1)
			assert.Equal(t, tt.kind, events[0].Side)
		})
	}
}

func TestPnLConservation(t *testing.T) {
	l := newLedger(10_000)
	a := open(t, l, "A", Buy, 10, 100)
	b := open(t, l, "B", Sell, 20, 50)
	c := open(t, l, "A", Buy, 5, 90)

	_, err := l.Close(a.ID, Fill{Volume: 3, Price: 105, Time: t0}, "")
	require.NoError(t, err)
	_, err = l.Close(b.ID, Fill{Volume: 20, Price: 55, Time: t0}, "")
	require.NoError(t, err)
	_, err = l.ApplyFactor("A", Split, 0.5, t0)
	require.NoError(t, err)
	_, err = l.Close(c.ID, Fill{Volume: 4, Price: 48, Time: t0}, "")
	require.NoError(t, err)

	marks := map[string]float64{"A": 51, "B": 55}
	assert.InDelta(t, l.Equity(marks)-l.Capital(), l.Realized()+l.Unrealized(marks), 1e-6)
}

func TestSnapshotRestore(t *testing.T) {
	l := newLedger(1000)
	tr := open(t, l, "X", Buy, 10, 10)
	_, err := l.Close(tr.ID, Fill{Volume: 5, Price: 11, Time: t0}, "")
	require.NoError(t, err)
	open(t, l, "Y", Sell, 2, 3)

	r := Restore(l.Snapshot(), id.NewGenerator(2))
	assert.Equal(t, l.Trades(Filter{}), r.Trades(Filter{}))
	assert.Equal(t, l.Cash(), r.Cash())
	assert.Equal(t, l.Realized(), r.Realized())

	_, err = r.Close(tr.ID, Fill{Volume: 5, Price: 12, Time: t0}, "")
	require.NoError(t, err)
	_, ok := l.Get(tr.ID)
	assert.True(t, ok)
	orig, _ := l.Get(tr.ID)
	assert.Equal(t, Closing, orig.Status, "restored ledger does not alias the original")
}

func TestPositionSumsInCreationOrder(t *testing.T) {
	l := newLedger(1e12)
	vols := []float64{1e8, 0.1, 3.3e-7, 7777.77, 0.2, 1e-3, 42.4242, 5e6}
	var want float64
	for _, v := range vols {
		open(t, l, "A", Buy, v, 1)
		want += v
	}

	seen := map[float64]bool{}
	for i := 0; i < 200; i++ {
		seen[l.Position("A")] = true
	}
	assert.Len(t, seen, 1, "position must not depend on map iteration order")
	assert.Equal(t, want, l.Position("A"))
}
