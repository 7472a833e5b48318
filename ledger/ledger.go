package ledger

import (
	"fmt"
	"sort"
	"time"
)

// IDSource issues trade identifiers.
type IDSource interface {
	New(t time.Time) string
}

// Ledger is the exclusive owner of all trades of a run. It is not safe for
// concurrent use; other goroutines read Snapshot copies.
type Ledger struct {
	ids      IDSource
	capital  float64
	cash     float64
	realized float64

	trades map[string]*Trade
	order  []string
	events []Trade
}

func New(capital float64, ids IDSource) *Ledger {
	return &Ledger{
		ids:     ids,
		capital: capital,
		cash:    capital,
		trades:  make(map[string]*Trade),
	}
}

func (l *Ledger) Capital() float64  { return l.capital }
func (l *Ledger) Cash() float64     { return l.cash }
func (l *Ledger) Realized() float64 { return l.realized }

// Create registers a pending trade for an order of volume (unsigned) on side.
// It has no market effect until a fill is applied.
func (l *Ledger) Create(symbol string, side Side, volume float64, t time.Time, day int) (*Trade, error) {
	if side != Buy && side != Sell {
		return nil, fmt.Errorf("create trade: side %q is not an order side", side)
	}
	if volume <= 0 {
		return nil, fmt.Errorf("create trade: volume must be positive, got %v", volume)
	}
	tr := &Trade{
		ID:         l.ids.New(t),
		Symbol:     symbol,
		Side:       side,
		Requested:  side.Sign() * volume,
		OpenTime:   t,
		UpdateTime: t,
		LastDay:    day,
		Status:     Pending,
	}
	l.trades[tr.ID] = tr
	l.order = append(l.order, tr.ID)
	return tr, nil
}

// ApplyFill adds an opening fill. A zero fill cancels a pending trade. The
// open volume never exceeds the requested volume.
func (l *Ledger) ApplyFill(id string, f Fill) (*Trade, error) {
	tr, ok := l.trades[id]
	if !ok {
		return nil, fmt.Errorf("apply fill: %w: %q", ErrNotFound, id)
	}
	if tr.Status != Pending && tr.Status != Open {
		return nil, fmt.Errorf("apply fill: %w: %s is %s", ErrStatus, id, tr.Status)
	}
	if f.Volume < 0 || f.Price < 0 {
		return nil, &InvariantError{TradeID: id, Msg: fmt.Sprintf("negative fill %v@%v", f.Volume, f.Price)}
	}
	if f.Volume == 0 {
		if tr.Status == Pending {
			tr.Status = Canceled
			tr.UpdateTime = f.Time
		}
		return tr, nil
	}
	if abs(tr.OpenVolume)+f.Volume > abs(tr.Requested)+epsilon {
		return nil, &InvariantError{TradeID: id, Msg: fmt.Sprintf(
			"fill %v exceeds remaining requested volume %v", f.Volume, abs(tr.Requested)-abs(tr.OpenVolume))}
	}

	sign := tr.Side.Sign()
	filled := abs(tr.OpenVolume)
	tr.OpenPrice = (tr.OpenPrice*filled + f.Price*f.Volume) / (filled + f.Volume)
	tr.OpenVolume += sign * f.Volume
	tr.Volume += sign * f.Volume
	if tr.Status == Pending {
		tr.OpenTime = f.Time
	}
	tr.UpdateTime = f.Time
	tr.Status = Open
	l.cash -= sign * f.Volume * f.Price
	return tr, nil
}

// Cancel cancels a pending trade, or the unfilled remainder of an open one.
func (l *Ledger) Cancel(id string, t time.Time) (*Trade, error) {
	tr, ok := l.trades[id]
	if !ok {
		return nil, fmt.Errorf("cancel: %w: %q", ErrNotFound, id)
	}
	switch tr.Status {
	case Pending:
		tr.Status = Canceled
	case Open, Closing:
		tr.Requested = tr.OpenVolume
	default:
		return nil, fmt.Errorf("cancel: %w: %s is %s", ErrStatus, id, tr.Status)
	}
	tr.UpdateTime = t
	return tr, nil
}

// CancelSymbol cancels every pending trade of symbol.
func (l *Ledger) CancelSymbol(symbol string, t time.Time) []*Trade {
	var out []*Trade
	for _, id := range l.order {
		tr := l.trades[id]
		if tr.Symbol == symbol && tr.Status == Pending {
			tr.Status = Canceled
			tr.UpdateTime = t
			out = append(out, tr)
		}
	}
	return out
}

// Close applies a closing fill. Realized PnL accrues only on the closed portion
// at the weighted average open price; closing more than is open is an invariant
// violation.
func (l *Ledger) Close(id string, f Fill, reason string) (*Trade, error) {
	tr, ok := l.trades[id]
	if !ok {
		return nil, fmt.Errorf("close: %w: %q", ErrNotFound, id)
	}
	if !tr.Status.Active() {
		return nil, fmt.Errorf("close: %w: %s is %s", ErrStatus, id, tr.Status)
	}
	if f.Volume < 0 {
		return nil, &InvariantError{TradeID: id, Msg: fmt.Sprintf("negative close volume %v", f.Volume)}
	}
	if f.Volume > abs(tr.Volume)+epsilon {
		return nil, &InvariantError{TradeID: id, Msg: fmt.Sprintf(
			"close volume %v exceeds open volume %v", f.Volume, abs(tr.Volume))}
	}
	if f.Volume == 0 {
		return tr, nil
	}

	sign := tr.Side.Sign()
	pnl := (f.Price - tr.OpenPrice) * f.Volume * sign
	closed := abs(tr.CloseVolume)
	tr.ClosePrice = (tr.ClosePrice*closed + f.Price*f.Volume) / (closed + f.Volume)
	tr.CloseVolume += sign * f.Volume
	tr.Volume -= sign * f.Volume
	tr.PnL += pnl
	tr.UpdateTime = f.Time
	if reason != "" {
		tr.Reason = reason
	}

	if abs(tr.Volume) <= epsilon {
		tr.Volume = 0
		tr.CloseVolume = tr.OpenVolume
		tr.Status = Closed
		tr.CloseTime = f.Time
	} else {
		tr.Status = Closing
	}

	l.cash += sign * f.Volume * f.Price
	l.realized += pnl
	return tr, nil
}

// CloseSymbol fully closes every active trade of symbol at price.
func (l *Ledger) CloseSymbol(symbol string, price float64, t time.Time, reason string) ([]*Trade, error) {
	var out []*Trade
	for _, id := range l.order {
		tr := l.trades[id]
		if tr.Symbol != symbol || !tr.Status.Active() {
			continue
		}
		if _, err := l.Close(id, Fill{Volume: abs(tr.Volume), Price: price, Time: t}, reason); err != nil {
			return out, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// CloseAll fully closes every active trade at its mark. Trades without a mark
// are left open and returned in missing.
func (l *Ledger) CloseAll(marks map[string]float64, t time.Time, reason string) (closed []*Trade, missing []string, err error) {
	for _, sym := range l.Symbols() {
		price, ok := marks[sym]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		trs, err := l.CloseSymbol(sym, price, t, reason)
		closed = append(closed, trs...)
		if err != nil {
			return closed, missing, err
		}
	}
	return closed, missing, nil
}

// MarkBar advances the bar counter of every active trade and the day counter
// when day moved past the trade's last marked day.
func (l *Ledger) MarkBar(day int, t time.Time) {
	for _, id := range l.order {
		tr := l.trades[id]
		if !tr.Status.Active() {
			continue
		}
		tr.Bars++
		if day > tr.LastDay {
			tr.Days += day - tr.LastDay
			tr.LastDay = day
		}
	}
}

// ApplyFactor adjusts active trades of symbol for a dividend or split expressed
// as a price factor: prices scale by factor and volumes by 1/factor, so cost
// basis and unrealized PnL are unchanged and no PnL is realized.
func (l *Ledger) ApplyFactor(symbol string, kind Side, factor float64, t time.Time) ([]*Trade, error) {
	if kind != Dividend && kind != Split {
		return nil, fmt.Errorf("apply factor: side %q is not an event side", kind)
	}
	if factor <= 0 {
		return nil, fmt.Errorf("apply factor: factor must be positive, got %v", factor)
	}
	var out []*Trade
	var adjusted float64
	for _, id := range l.order {
		tr := l.trades[id]
		if tr.Symbol != symbol || !tr.Status.Active() {
			continue
		}
		oldOpen := tr.OpenVolume
		tr.Volume /= factor
		tr.OpenVolume = tr.CloseVolume + tr.Volume
		tr.Requested += tr.OpenVolume - oldOpen
		tr.OpenPrice *= factor
		tr.UpdateTime = t
		adjusted += tr.Volume
		out = append(out, tr)
	}
	if len(out) > 0 {
		l.events = append(l.events, Trade{
			ID:         l.ids.New(t),
			Symbol:     symbol,
			Side:       kind,
			Volume:     adjusted,
			OpenPrice:  factor,
			OpenTime:   t,
			UpdateTime: t,
			CloseTime:  t,
			Status:     Closed,
		})
	}
	return out, nil
}

// Get returns a copy of a trade.
func (l *Ledger) Get(id string) (Trade, bool) {
	tr, ok := l.trades[id]
	if !ok {
		return Trade{}, false
	}
	return *tr, true
}

// Filter selects trades. Zero fields match everything.
type Filter struct {
	Symbol string
	Side   Side
	Status []Status
}

func (f Filter) match(t *Trade) bool {
	if f.Symbol != "" && t.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && t.Side != f.Side {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Trades returns copies of matching trades in creation order.
func (l *Ledger) Trades(f Filter) []Trade {
	var out []Trade
	for _, id := range l.order {
		if tr := l.trades[id]; f.match(tr) {
			out = append(out, *tr)
		}
	}
	return out
}

// OpenTrades returns active trades, optionally restricted to one symbol.
func (l *Ledger) OpenTrades(symbol string) []Trade {
	return l.Trades(Filter{Symbol: symbol, Status: []Status{Open, Closing}})
}

// Events returns the dividend and split rows.
func (l *Ledger) Events() []Trade {
	out := make([]Trade, len(l.events))
	copy(out, l.events)
	return out
}

// Position is the net signed volume held in symbol.
func (l *Ledger) Position(symbol string) float64 {
	var v float64
	for _, id := range l.order {
		tr := l.trades[id]
		if tr.Symbol == symbol && tr.Status.Active() {
			v += tr.Volume
		}
	}
	return v
}

// Symbols lists symbols with active trades, sorted.
func (l *Ledger) Symbols() []string {
	seen := map[string]bool{}
	var out []string
	for _, tr := range l.trades {
		if tr.Status.Active() && !seen[tr.Symbol] {
			seen[tr.Symbol] = true
			out = append(out, tr.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Holdings maps each held symbol to its net volume.
func (l *Ledger) Holdings() map[string]float64 {
	out := map[string]float64{}
	for _, sym := range l.Symbols() {
		out[sym] = l.Position(sym)
	}
	return out
}

// Unrealized sums the open PnL of active trades at the given marks. Trades
// without a mark contribute nothing.
func (l *Ledger) Unrealized(marks map[string]float64) float64 {
	var u float64
	for _, id := range l.order {
		tr := l.trades[id]
		if m, ok := marks[tr.Symbol]; ok {
			u += tr.Unrealized(m)
		}
	}
	return u
}

// Equity is cash plus the marked value of active positions. Positions without
// a mark are valued at their open price.
func (l *Ledger) Equity(marks map[string]float64) float64 {
	eq := l.cash
	for _, id := range l.order {
		tr := l.trades[id]
		if !tr.Status.Active() {
			continue
		}
		m, ok := marks[tr.Symbol]
		if !ok {
			m = tr.OpenPrice
		}
		eq += tr.Volume * m
	}
	return eq
}

// Snapshot is a deep copy of the ledger state.
type Snapshot struct {
	Capital  float64 `json:"capital"`
	Cash     float64 `json:"cash"`
	Realized float64 `json:"realized"`
	Trades   []Trade `json:"trades"`
	Events   []Trade `json:"events"`
}

func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Capital:  l.capital,
		Cash:     l.cash,
		Realized: l.realized,
		Trades:   l.Trades(Filter{}),
		Events:   l.Events(),
	}
}

// Restore rebuilds a ledger from a snapshot.
func Restore(s Snapshot, ids IDSource) *Ledger {
	l := New(s.Capital, ids)
	l.cash = s.Cash
	l.realized = s.Realized
	for i := range s.Trades {
		tr := s.Trades[i]
		l.trades[tr.ID] = &tr
		l.order = append(l.order, tr.ID)
	}
	l.events = append(l.events, s.Events...)
	return l
}
