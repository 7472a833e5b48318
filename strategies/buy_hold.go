package strategies

import (
	"github.com/rustyeddy/robusta/engine"
	"github.com/rustyeddy/robusta/market"
)

const keyBought = "buy-hold.bought"

// BuyHold buys every asset in equal weight on the first tradable bar and
// holds until the end of the run.
type BuyHold struct{}

func (*BuyHold) Name() string { return "buy-hold" }

func (*BuyHold) OnBar(c *engine.Context) error {
	if c.IsLookback() || c.Vars.Float(keyBought, 0) == 1 {
		return nil
	}
	var priced []string
	for _, s := range c.Assets {
		if _, ok := c.Close(s); ok {
			priced = append(priced, s)
		}
	}
	if len(priced) == 0 {
		return nil
	}
	w := make(map[string]float64, len(priced))
	for _, s := range priced {
		w[s] = 1 / float64(len(priced))
	}
	c.BuyTarget(w)
	return c.Vars.Set(keyBought, market.Num(1))
}
