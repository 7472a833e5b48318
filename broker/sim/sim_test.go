package sim

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestOrderFillsAtMark(t *testing.T) {
	b := New(Config{Rules: broker.Rules{LotSize: 1}})
	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10, Volume: 1000})

	fill, err := b.Order(context.Background(), broker.OrderRequest{
		Symbol: "X", Side: ledger.Buy, Volume: 10.7, Intent: broker.IntentOpen,
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, fill.Volume)
	assert.Equal(t, 10.0, fill.Price)
	assert.Equal(t, t0, fill.Time)
}

func TestSlippageMovesAgainstOrder(t *testing.T) {
	tests := []struct {
		name string
		side ledger.Side
		want float64
	}{
		{"buy pays up", ledger.Buy, 100*1.001 + 0.05},
		{"sell receives less", ledger.Sell, 100*0.999 - 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(Config{
				Rules:         broker.Rules{LotSize: 1, AllowShort: true},
				SlippageBps:   10,
				SlippageFixed: 0.05,
			})
			b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 100})
			fill, err := b.Order(context.Background(), broker.OrderRequest{
				Symbol: "X", Side: tt.side, Volume: 1, Intent: broker.IntentOpen,
			})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, fill.Price, 1e-9)
		})
	}
}

func TestDepthQuotes(t *testing.T) {
	b := New(Config{Rules: broker.Rules{LotSize: 1}})
	d := &market.Depth{Last: 10}
	d.Bids[0] = market.Level{Price: 9.9, Volume: 100}
	d.Asks[0] = market.Level{Price: 10.1, Volume: 100}
	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10, Depth: d})

	buy, err := b.Order(context.Background(), broker.OrderRequest{Symbol: "X", Side: ledger.Buy, Volume: 1, Intent: broker.IntentOpen})
	require.NoError(t, err)
	assert.Equal(t, 10.1, buy.Price)

	sell, err := b.Order(context.Background(), broker.OrderRequest{Symbol: "X", Side: ledger.Sell, Volume: 1, Intent: broker.IntentClose})
	require.NoError(t, err)
	assert.Equal(t, 9.9, sell.Price)
}

func TestPartialFillByVolumeCap(t *testing.T) {
	b := New(Config{Rules: broker.Rules{LotSize: 10}, MaxVolumePct: 5})
	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10, Volume: 1000})

	fill, err := b.Order(context.Background(), broker.OrderRequest{Symbol: "X", Side: ledger.Buy, Volume: 200, Intent: broker.IntentOpen})
	require.NoError(t, err)
	assert.Equal(t, 50.0, fill.Volume)

	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10, Volume: 100})
	fill, err = b.Order(context.Background(), broker.OrderRequest{Symbol: "X", Side: ledger.Buy, Volume: 200, Intent: broker.IntentOpen})
	require.NoError(t, err, "zero fill is normal market behaviour")
	assert.Equal(t, 0.0, fill.Volume)
}

func TestRejections(t *testing.T) {
	b := New(Config{Rules: broker.Rules{LotSize: 100}})
	ctx := context.Background()

	_, err := b.Order(ctx, broker.OrderRequest{Symbol: "X", Side: ledger.Buy, Volume: 100})
	assert.ErrorIs(t, err, broker.ErrOrderRejected, "no quote")

	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10})
	_, err = b.Order(ctx, broker.OrderRequest{Symbol: "X", Side: ledger.Buy, Volume: 50, Intent: broker.IntentOpen})
	assert.ErrorIs(t, err, broker.ErrOrderRejected, "below lot")

	_, err = b.Order(ctx, broker.OrderRequest{Symbol: "X", Side: ledger.Sell, Volume: 100, Intent: broker.IntentOpen})
	assert.ErrorIs(t, err, broker.ErrOrderRejected, "short not allowed")

	_, err = b.Order(ctx, broker.OrderRequest{Symbol: "X", Side: ledger.Sell, Volume: 100, Intent: broker.IntentClose})
	assert.NoError(t, err, "closing a long is not a short")
}

func TestFullCloseSkipsLotRounding(t *testing.T) {
	b := New(Config{Rules: broker.Rules{LotSize: 1}})
	b.UpdateQuote(market.Bar{Symbol: "X", Time: t0, Close: 10, Volume: 1000})

	full, err := b.Order(context.Background(), broker.OrderRequest{
		Symbol: "X", Side: ledger.Sell, Volume: 9.5, Intent: broker.IntentClose, Full: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 9.5, full.Volume)

	// a partial close still trades whole lots
	part, err := b.Order(context.Background(), broker.OrderRequest{
		Symbol: "X", Side: ledger.Sell, Volume: 9.5, Intent: broker.IntentClose,
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, part.Volume)

	// a full close below one lot still goes through
	tiny, err := b.Order(context.Background(), broker.OrderRequest{
		Symbol: "X", Side: ledger.Sell, Volume: 0.25, Intent: broker.IntentClose, Full: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.25, tiny.Volume)
}
