package rebalance

import (
	"testing"
	"time"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/internal/id"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func hold(t *testing.T, l *ledger.Ledger, sym string, side ledger.Side, vol, price float64) ledger.Trade {
	t.Helper()
	tr, err := l.Create(sym, side, vol, t0, 0)
	require.NoError(t, err)
	_, err = l.ApplyFill(tr.ID, ledger.Fill{Volume: vol, Price: price, Time: t0})
	require.NoError(t, err)
	got, _ := l.Get(tr.ID)
	return got
}

func newLedger(capital float64) *ledger.Ledger {
	return ledger.New(capital, id.NewGenerator(7))
}

var lot1 = broker.Rules{LotSize: 1}

func TestOpenFromFlat(t *testing.T) {
	l := newLedger(100)
	plan := BuyTarget(map[string]float64{"X": 1}, l, lot1, map[string]float64{"X": 10}, risk.Unlimited())

	require.Len(t, plan.Instructions, 1)
	in := plan.Instructions[0]
	assert.Equal(t, Instruction{Symbol: "X", Side: ledger.Buy, Volume: 10, Price: 10, Intent: broker.IntentOpen}, in)
	assert.Empty(t, plan.Warnings)
}

func TestZeroWeightClosesEveryTradeFIFO(t *testing.T) {
	l := newLedger(1000)
	a := hold(t, l, "X", ledger.Buy, 3, 10)
	b := hold(t, l, "X", ledger.Buy, 4, 11)

	plan := SellTarget(map[string]float64{"X": 0}, l, lot1, map[string]float64{"X": 9}, risk.Unlimited())
	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, a.ID, plan.Instructions[0].TradeID)
	assert.Equal(t, b.ID, plan.Instructions[1].TradeID)

	var total float64
	for _, in := range plan.Instructions {
		assert.Equal(t, ledger.Sell, in.Side)
		assert.Equal(t, broker.IntentClose, in.Intent)
		assert.True(t, in.Full, "each close covers its whole trade")
		total += in.Volume
	}
	assert.Equal(t, 7.0, total)
}

func TestHeldSymbolsMissingFromWeightsAreClosed(t *testing.T) {
	l := newLedger(100)
	hold(t, l, "A", ledger.Buy, 10, 10)

	plan := OrderTarget(map[string]float64{"B": 1}, l, lot1, map[string]float64{"A": 10, "B": 5}, risk.Unlimited())
	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, broker.IntentClose, plan.Instructions[0].Intent, "closes come first")
	assert.Equal(t, "A", plan.Instructions[0].Symbol)
	assert.Equal(t, "B", plan.Instructions[1].Symbol)
	assert.Equal(t, 20.0, plan.Instructions[1].Volume, "sized on equity freed by the close")
}

func TestPartialReduce(t *testing.T) {
	l := newLedger(100)
	hold(t, l, "X", ledger.Buy, 10, 10)

	plan := OrderTarget(map[string]float64{"X": 0.5}, l, lot1, map[string]float64{"X": 10}, risk.Unlimited())
	require.Len(t, plan.Instructions, 1)
	assert.Equal(t, ledger.Sell, plan.Instructions[0].Side)
	assert.Equal(t, 5.0, plan.Instructions[0].Volume)
	assert.False(t, plan.Instructions[0].Full)
}

func TestAddToPosition(t *testing.T) {
	l := newLedger(100)
	hold(t, l, "X", ledger.Buy, 5, 10)

	plan := OrderTarget(map[string]float64{"X": 1}, l, lot1, map[string]float64{"X": 10}, risk.Unlimited())
	require.Len(t, plan.Instructions, 1)
	assert.Equal(t, ledger.Buy, plan.Instructions[0].Side)
	assert.Equal(t, 5.0, plan.Instructions[0].Volume)
}

func TestFlipLongToShort(t *testing.T) {
	l := newLedger(100)
	hold(t, l, "X", ledger.Buy, 10, 10)
	rules := broker.Rules{LotSize: 1, AllowShort: true}

	plan := OrderTarget(map[string]float64{"X": -1}, l, rules, map[string]float64{"X": 10}, risk.Unlimited())
	require.Len(t, plan.Instructions, 2)
	assert.Equal(t, broker.IntentClose, plan.Instructions[0].Intent)
	assert.Equal(t, 10.0, plan.Instructions[0].Volume)
	assert.Equal(t, ledger.Sell, plan.Instructions[1].Side)
	assert.Equal(t, broker.IntentOpen, plan.Instructions[1].Intent)
	assert.Equal(t, 10.0, plan.Instructions[1].Volume)
}

func TestShortRestrictedIsWarning(t *testing.T) {
	l := newLedger(100)
	plan := SellTarget(map[string]float64{"X": -1}, l, lot1, map[string]float64{"X": 10}, risk.Unlimited())

	assert.Empty(t, plan.Instructions)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnShortRestricted, plan.Warnings[0].Kind)
}

func TestCloseLockedBySettlement(t *testing.T) {
	l := newLedger(0)
	hold(t, l, "X", ledger.Buy, 10, 10)
	rules := broker.Rules{LotSize: 1, SettlementDays: 2}

	plan := OrderTarget(map[string]float64{"X": 0}, l, rules, map[string]float64{"X": 10}, risk.Unlimited())
	assert.Empty(t, plan.Instructions)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnCloseLocked, plan.Warnings[0].Kind)

	l.MarkBar(2, t0)
	plan = OrderTarget(map[string]float64{"X": 0}, l, rules, map[string]float64{"X": 10}, risk.Unlimited())
	assert.Len(t, plan.Instructions, 1)
}

func TestLeverageRejected(t *testing.T) {
	l := newLedger(100)
	hold(t, l, "Y", ledger.Buy, 1, 10)

	plan := OrderTarget(map[string]float64{"X": 2}, l, lot1, map[string]float64{"X": 10, "Y": 10}, risk.Policy{MaxWeight: 1})
	require.Len(t, plan.Instructions, 1, "only the held Y is closed")
	assert.Equal(t, "Y", plan.Instructions[0].Symbol)
	assert.Equal(t, WarnLeverage, plan.Warnings[0].Kind)

	plan = OrderTarget(map[string]float64{"X": 0.8, "Z": 0.8}, l, lot1, map[string]float64{"X": 10, "Y": 10, "Z": 10}, risk.Policy{MaxGross: 1})
	assert.Empty(t, plan.Instructions, "gross violation is a no-op")
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnLeverage, plan.Warnings[0].Kind)
}

func TestBelowLotEmitsNothing(t *testing.T) {
	l := newLedger(100)
	plan := OrderTarget(map[string]float64{"X": 1}, l, broker.Rules{LotSize: 100}, map[string]float64{"X": 10}, risk.Unlimited())
	assert.Empty(t, plan.Instructions)
	assert.Empty(t, plan.Warnings)
}

func TestDirectionFilters(t *testing.T) {
	l := newLedger(50)
	hold(t, l, "A", ledger.Buy, 5, 10)
	weights := map[string]float64{"A": 0, "B": 0.5}
	marks := map[string]float64{"A": 10, "B": 10}

	full := OrderTarget(weights, l, lot1, marks, risk.Unlimited())
	buys := BuyTarget(weights, l, lot1, marks, risk.Unlimited())
	sells := SellTarget(weights, l, lot1, marks, risk.Unlimited())

	require.Len(t, full.Instructions, 2)
	assert.Equal(t, full.Instructions[1:], buys.Instructions)
	assert.Equal(t, full.Instructions[:1], sells.Instructions)
}

func TestMissingPriceWarns(t *testing.T) {
	l := newLedger(100)
	plan := OrderTarget(map[string]float64{"X": 1}, l, lot1, map[string]float64{}, risk.Unlimited())
	assert.Empty(t, plan.Instructions)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnNoPrice, plan.Warnings[0].Kind)
}
