// Package sim fills orders against the most recent bar of each symbol.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
)

type Config struct {
	Rules broker.Rules

	// SlippageBps moves the fill price against the order by basis points.
	SlippageBps float64
	// SlippageFixed moves the fill price against the order by a price amount.
	SlippageFixed float64
	// MaxVolumePct caps a fill at this percentage of the bar volume. Zero
	// disables the cap.
	MaxVolumePct float64
}

// Broker is the backtest fill model. Quotes are pushed by the engine before
// each strategy call.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	quotes map[string]market.Bar
}

var _ broker.Broker = (*Broker)(nil)

func New(cfg Config) *Broker {
	return &Broker{cfg: cfg, quotes: make(map[string]market.Bar)}
}

// UpdateQuote records bar as the current quote of its symbol.
func (b *Broker) UpdateQuote(bar market.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[bar.Symbol] = bar
}

// Quote returns the current quote of symbol.
func (b *Broker) Quote(symbol string) (market.Bar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

func (b *Broker) RefineVolume(volume, price float64, symbol string) float64 {
	return b.cfg.Rules.RefineVolume(volume, price, symbol)
}

func (b *Broker) CanShort(symbol string) bool { return b.cfg.Rules.CanShort(symbol) }

func (b *Broker) CanClose(t ledger.Trade) bool { return b.cfg.Rules.CanClose(t) }

// Order fills req at the current quote. Buys pay the best ask and sells hit
// the best bid when the quote carries depth; otherwise both use the mark.
func (b *Broker) Order(ctx context.Context, req broker.OrderRequest) (ledger.Fill, error) {
	_ = ctx

	q, ok := b.Quote(req.Symbol)
	if !ok {
		return ledger.Fill{Time: req.Time}, fmt.Errorf("sim order: %w: no quote for %q", broker.ErrOrderRejected, req.Symbol)
	}
	fill := ledger.Fill{Time: q.Time}

	if req.Intent == broker.IntentOpen && req.Side == ledger.Sell && !b.CanShort(req.Symbol) {
		return fill, fmt.Errorf("sim order: %w: %q is not shortable", broker.ErrOrderRejected, req.Symbol)
	}

	price := b.basePrice(q, req.Side)
	if price <= 0 {
		return fill, fmt.Errorf("sim order: %w: no price for %q", broker.ErrOrderRejected, req.Symbol)
	}

	volume := math.Abs(req.Volume)
	if !fullClose(req) {
		volume = b.RefineVolume(volume, price, req.Symbol)
	}
	if volume <= 0 {
		return fill, fmt.Errorf("sim order: %w: volume %v below lot for %q", broker.ErrOrderRejected, req.Volume, req.Symbol)
	}
	if b.cfg.MaxVolumePct > 0 && q.Volume > 0 {
		limit := b.RefineVolume(q.Volume*b.cfg.MaxVolumePct/100, price, req.Symbol)
		volume = math.Min(volume, limit)
	}

	fill.Volume = volume
	fill.Price = b.slip(price, req.Side)
	return fill, nil
}

// fullClose reports whether req closes a whole trade. Lot rounding would
// strand the fractional remainder left behind by dividends and splits.
func fullClose(req broker.OrderRequest) bool {
	return req.Intent == broker.IntentClose && req.Full
}

func (b *Broker) basePrice(q market.Bar, side ledger.Side) float64 {
	if q.Depth != nil {
		if side == ledger.Buy && q.Depth.BestAsk() > 0 {
			return q.Depth.BestAsk()
		}
		if side == ledger.Sell && q.Depth.BestBid() > 0 {
			return q.Depth.BestBid()
		}
	}
	return q.Mark()
}

func (b *Broker) slip(price float64, side ledger.Side) float64 {
	s := side.Sign()
	out := price*(1+s*b.cfg.SlippageBps/10_000) + s*b.cfg.SlippageFixed
	if out < 0 {
		return 0
	}
	return out
}
