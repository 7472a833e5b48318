package strategies

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/robusta/engine"
	"github.com/rustyeddy/robusta/indicators"
	"github.com/rustyeddy/robusta/market"
)

// EMACross holds an equal slice of capital in every asset whose fast EMA of
// closes is above its slow EMA, and nothing in the others. Orders go out only
// when a signal flips.
//
// With ADX set, entries also need ADX(ADX) of at least MinADX. With StopATR
// set, a long is exited when the close falls below a stop trailing StopATR
// times ATR(ATR) under the close; the asset then waits for the next upward
// cross. Both read high, low and close from the series store, so series_depth
// must cover their windows.
type EMACross struct {
	Fast int
	Slow int

	ADX    int
	MinADX float64

	ATR     int
	StopATR float64
}

// NewEMACross reads the "fast" and "slow" periods from params, plus the
// optional "adx", "min_adx", "atr" and "stop_atr" filters.
func NewEMACross(params map[string]any) (engine.Strategy, error) {
	s := &EMACross{}
	var err error
	if s.Fast, err = intParam(params, "fast", 10); err != nil {
		return nil, err
	}
	if s.Slow, err = intParam(params, "slow", 30); err != nil {
		return nil, err
	}
	if s.Fast <= 0 || s.Slow <= s.Fast {
		return nil, fmt.Errorf("ema-cross: want 0 < fast < slow, got fast=%d slow=%d", s.Fast, s.Slow)
	}
	if s.ADX, err = intParam(params, "adx", 0); err != nil {
		return nil, err
	}
	if s.MinADX, err = floatParam(params, "min_adx", 20); err != nil {
		return nil, err
	}
	if s.ATR, err = intParam(params, "atr", 14); err != nil {
		return nil, err
	}
	if s.StopATR, err = floatParam(params, "stop_atr", 0); err != nil {
		return nil, err
	}
	if s.ADX < 0 || s.ATR <= 0 || s.StopATR < 0 {
		return nil, fmt.Errorf("ema-cross: want adx >= 0, atr > 0 and stop_atr >= 0, got adx=%d atr=%d stop_atr=%v",
			s.ADX, s.ATR, s.StopATR)
	}
	return s, nil
}

func (s *EMACross) Name() string { return "ema-cross" }

func (s *EMACross) OnBar(c *engine.Context) error {
	if c.IsLookback() || len(c.Assets) == 0 {
		return nil
	}
	slice := 1 / float64(len(c.Assets))
	weights := make(map[string]float64, len(c.Assets))
	changed := false

	for _, sym := range c.Assets {
		key := "ema-cross." + sym
		long := c.Vars.Float(key, 0) == 1

		closes := c.History(sym, "c", 2*s.Slow)
		if len(closes) >= s.Slow {
			fast, err := indicators.EMA(closes, s.Fast)
			if err != nil {
				return err
			}
			slow, err := indicators.EMA(closes, s.Slow)
			if err != nil {
				return err
			}
			c.RecordFloat(sym+".fast", fast)
			c.RecordFloat(sym+".slow", slow)

			now, err := s.signal(c, sym, fast > slow, long, closes[0])
			if err != nil {
				return err
			}
			if now != long {
				long = now
				changed = true
				if err := c.Vars.Set(key, boolValue(long)); err != nil {
					return err
				}
			}
		}
		if long {
			weights[sym] = slice
		} else {
			weights[sym] = 0
		}
	}

	if changed {
		c.OrderTarget(weights)
	}
	return nil
}

// signal applies the trend filter to entries and the trailing stop to longs.
// The stop level lives in Vars; -1 marks an asset stopped out until the fast
// EMA crosses back under the slow one.
func (s *EMACross) signal(c *engine.Context, sym string, cross, long bool, px float64) (bool, error) {
	stopKey := "ema-cross.stop." + sym
	if !cross {
		if s.StopATR > 0 {
			return false, c.Vars.Set(stopKey, market.Num(0))
		}
		return false, nil
	}
	stop := c.Vars.Float(stopKey, 0)
	if stop < 0 {
		return false, nil
	}
	if !long {
		ok, err := s.trending(c, sym)
		if err != nil || !ok {
			return false, err
		}
	}
	if s.StopATR <= 0 {
		return true, nil
	}

	if long && stop > 0 && px < stop {
		c.RecordFloat(sym+".stop", stop)
		return false, c.Vars.Set(stopKey, market.Num(-1))
	}
	n := 2*s.ATR + 1
	atr, err := indicators.ATR(c.History(sym, "h", n), c.History(sym, "l", n), c.History(sym, "c", n), s.ATR)
	if errors.Is(err, indicators.ErrNotEnoughData) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	c.RecordFloat(sym+".atr", atr)
	if level := px - s.StopATR*atr; level > stop {
		stop = level
	}
	return true, c.Vars.Set(stopKey, market.Num(stop))
}

// trending reports whether ADX over the stored bars of sym reaches MinADX.
// An ADX that has not warmed up keeps the asset flat.
func (s *EMACross) trending(c *engine.Context, sym string) (bool, error) {
	if s.ADX == 0 {
		return true, nil
	}
	n := 4 * s.ADX
	h, l, cl := c.History(sym, "h", n), c.History(sym, "l", n), c.History(sym, "c", n)
	if len(h) != len(l) || len(cl) != len(h) {
		return false, fmt.Errorf("ema-cross: %s has uneven high/low/close history", sym)
	}
	adx := indicators.NewADX(s.ADX)
	for i := len(h) - 1; i >= 0; i-- {
		adx.Update(market.Bar{Symbol: sym, High: h[i], Low: l[i], Close: cl[i]})
	}
	if !adx.Ready() {
		return false, nil
	}
	c.RecordFloat(sym+".adx", adx.Value())
	return adx.Value() >= s.MinADX, nil
}

func boolValue(b bool) market.Value {
	if b {
		return market.Num(1)
	}
	return market.Num(0)
}
