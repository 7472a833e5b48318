package broker

import (
	"sort"

	"github.com/rustyeddy/robusta/ledger"
	"github.com/shopspring/decimal"
)

// LotTier sets the lot size for prices at or above MinPrice.
type LotTier struct {
	MinPrice float64 `yaml:"min_price" json:"min_price"`
	Lot      float64 `yaml:"lot" json:"lot"`
}

// Rules are the instrument constraints both broker variants enforce.
type Rules struct {
	LotSize        float64
	LotTiers       []LotTier
	AllowShort     bool
	NoShort        []string
	SettlementDays int
}

// Lot returns the lot size that applies at price.
func (r Rules) Lot(price float64) float64 {
	lot := r.LotSize
	tiers := append([]LotTier(nil), r.LotTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinPrice < tiers[j].MinPrice })
	for _, t := range tiers {
		if price >= t.MinPrice && t.Lot > 0 {
			lot = t.Lot
		}
	}
	if lot <= 0 {
		lot = 1
	}
	return lot
}

// RefineVolume truncates volume to a multiple of the lot, keeping its sign.
// Decimal arithmetic keeps fractional lots such as 0.01 exact.
func (r Rules) RefineVolume(volume, price float64, _ string) float64 {
	lot := decimal.NewFromFloat(r.Lot(price))
	v := decimal.NewFromFloat(volume)
	lots := v.Div(lot).Truncate(0)
	out, _ := lots.Mul(lot).Float64()
	if out == 0 {
		return 0
	}
	return out
}

func (r Rules) CanShort(symbol string) bool {
	if !r.AllowShort {
		return false
	}
	for _, s := range r.NoShort {
		if s == symbol {
			return false
		}
	}
	return true
}

// CanClose enforces the T+ settlement lock: a trade can be closed once it has
// been held for SettlementDays trading days.
func (r Rules) CanClose(t ledger.Trade) bool {
	if !t.Status.Active() {
		return false
	}
	return t.Days >= r.SettlementDays
}
