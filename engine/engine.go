// Package engine runs strategies bar by bar. Each step classifies the bar on
// the session clock, feeds the series store, calls the strategy with a
// Context and turns its target weights into trades through the broker and
// the ledger.
//
// An Engine is single use and not safe for concurrent use. Other goroutines
// read progress through Snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/broker/sim"
	"github.com/rustyeddy/robusta/checkpoint"
	"github.com/rustyeddy/robusta/config"
	"github.com/rustyeddy/robusta/feed"
	"github.com/rustyeddy/robusta/internal/id"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/rustyeddy/robusta/internal/metrics"
	"github.com/rustyeddy/robusta/journal"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/rustyeddy/robusta/rebalance"
	"github.com/rustyeddy/robusta/risk"
	"github.com/rustyeddy/robusta/series"
	"github.com/rustyeddy/robusta/session"
	"github.com/sirupsen/logrus"
)

// Strategy is called once per tradable bar.
type Strategy interface {
	Name() string
	OnBar(ctx *Context) error
}

// Resetter is implemented by strategies holding state outside Context.Vars.
// Reset is called once before a fresh run starts.
type Resetter interface {
	Reset()
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx *Context) error

func (f StrategyFunc) Name() string             { return "func" }
func (f StrategyFunc) OnBar(ctx *Context) error { return f(ctx) }

// Quoter is implemented by brokers that price fills off the latest bar.
type Quoter interface {
	UpdateQuote(b market.Bar)
}

const EndOfRun = "EndOfRun"

// Options wires a run. Config, Strategy and Source are required.
type Options struct {
	Config   *config.Run
	Strategy Strategy
	Source   feed.Source

	Broker   broker.Broker      // default: simulated broker from Config
	Universe market.Universe    // default: Config.Assets
	Journal  journal.Journal    // default: journal.Nop
	Log      logrus.FieldLogger // default: discard
	IDs      ledger.IDSource    // default: random ULIDs
	RunID    string             // default: random UUID
	Now      func() time.Time   // wall clock for run metadata

	// Resume continues a run from a checkpoint instead of starting fresh.
	Resume *checkpoint.State
}

type Engine struct {
	cfg      *config.Run
	strategy Strategy
	source   feed.Source
	broker   broker.Broker
	universe market.Universe
	journal  journal.Journal
	log      *logrus.Entry
	ids      ledger.IDSource
	wall     func() time.Time

	runID  string
	start  time.Time
	end    time.Time
	fields []string
	policy risk.Policy

	clock  *session.Clock
	store  *series.Store
	ledger *ledger.Ledger
	vars   *State

	phase       Phase
	bar         int // -1 before the first tradable bar
	day         int
	now         time.Time
	first       time.Time
	last        map[string]market.Bar
	pending     *market.Bar
	resumeAfter time.Time
	resumed     bool

	warnings []Warning
	equity   []journal.EquitySnapshot
	snap     atomic.Pointer[Snapshot]
}

// New validates the configuration and builds an engine. Every error returned
// here matches config.ErrConfiguration.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, &config.FieldError{Field: "config", Msg: "missing"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == nil {
		return nil, &config.FieldError{Field: "strategy", Msg: "missing"}
	}
	if opts.Source == nil {
		return nil, &config.FieldError{Field: "source", Msg: "missing"}
	}
	start, end, err := cfg.Range()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		strategy: opts.Strategy,
		source:   opts.Source,
		broker:   opts.Broker,
		universe: opts.Universe,
		journal:  opts.Journal,
		ids:      opts.IDs,
		wall:     opts.Now,
		runID:    opts.RunID,
		start:    start,
		end:      end,
		fields:   market.ParseBarFields(cfg.BarFields),
		policy:   cfg.Policy(),
		vars:     NewState(),
		bar:      -1,
		last:     make(map[string]market.Bar),
	}
	if e.broker == nil {
		e.broker = sim.New(cfg.SimConfig())
	}
	if e.universe == nil {
		e.universe = market.StaticUniverse(cfg.Assets)
	}
	if e.journal == nil {
		e.journal = journal.Nop{}
	}
	if e.ids == nil {
		e.ids = id.NewRandom()
	}
	if e.wall == nil {
		e.wall = func() time.Time { return time.Now().UTC() }
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	depth := max(cfg.SeriesDepth, cfg.Lookback, 1)
	e.store = series.NewStore(depth)
	e.ledger = ledger.New(cfg.Capital, e.ids)

	if !start.IsZero() {
		if e.clock, err = session.New(cfg.SessionConfig(), start); err != nil {
			return nil, &config.FieldError{Field: "session", Msg: err.Error()}
		}
		if err := e.checkLookback(); err != nil {
			return nil, err
		}
	}

	if s := opts.Resume; s != nil {
		if err := e.restore(*s); err != nil {
			return nil, fmt.Errorf("%w: resume: %w", config.ErrConfiguration, err)
		}
	}
	e.log = logging.WithComponent(log, "engine").WithField("run_id", e.runID)
	return e, nil
}

// checkLookback rejects a lookback that leaves no tradable bar in the range.
func (e *Engine) checkLookback() error {
	if e.end.IsZero() || e.cfg.Lookback == 0 {
		return nil
	}
	days := e.clock.Locate(e.end.Add(-time.Nanosecond)).Day + 1
	if avail := days * e.clock.BarsPerDay(); e.cfg.Lookback >= avail {
		return &config.FieldError{
			Field: "lookback",
			Msg:   fmt.Sprintf("%d bars of lookback leave no tradable bar in the %d bars of the date range", e.cfg.Lookback, avail),
		}
	}
	return nil
}

func (e *Engine) RunID() string { return e.runID }

func (e *Engine) Phase() Phase { return e.phase }

// Ledger exposes the run's ledger. It must only be used from the goroutine
// calling Run, or after Run returned.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) Warnings() []Warning { return append([]Warning(nil), e.warnings...) }

// Snapshot returns the state published after the last completed step. It is
// safe to call from any goroutine and nil before the first step.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

func (e *Engine) key() feed.Key {
	return feed.Key{
		Market:    e.cfg.Market,
		DataType:  e.cfg.DataType,
		Assets:    append([]string(nil), e.cfg.Assets...),
		StartDate: e.start,
		EndDate:   e.end,
		BarFields: e.cfg.BarFields,
	}
}

func (e *Engine) live() bool { return e.cfg.Mode == "live" }

// Run steps through the feed until it ends, the end date is reached or ctx is
// canceled. Cancellation is honoured between bars only. A non-nil error means
// the run halted; the partial Result is still returned.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.phase == Done {
		return nil, errors.New("engine: run already finished")
	}
	if r, ok := e.strategy.(Resetter); ok && !e.resumed {
		r.Reset()
	}

	key := e.key()
	stream, err := e.source.Open(ctx, key)
	if err != nil {
		return e.halt(fmt.Errorf("open feed %s: %w", key, err))
	}
	defer stream.Close()

	e.log.WithFields(logrus.Fields{
		"strategy": e.strategy.Name(),
		"mode":     e.cfg.Mode,
		"feed":     key.String(),
	}).Info("run started")

	canceled := false
	for {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		bars, ok, err := e.next(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				canceled = true
				break
			}
			return e.halt(err)
		}
		if !ok {
			break
		}
		// A step is atomic: broker calls inside it ignore cancellation.
		if err := e.step(context.WithoutCancel(ctx), bars); err != nil {
			return e.halt(err)
		}
	}

	if canceled {
		e.log.Warn("run canceled")
		e.phase = Done
		res := e.finish(true)
		return res, ctx.Err()
	}

	e.phase = Closing
	if err := e.liquidate(); err != nil {
		return e.halt(err)
	}
	e.phase = Done
	return e.finish(false), nil
}

// halt stops the run on a fatal error.
func (e *Engine) halt(err error) (*Result, error) {
	e.log.WithError(err).Error("run halted")
	e.phase = Done
	res := e.finish(true)
	res.Err = err
	return res, err
}

// next returns the bars of the next timestamp. In live mode every bar is its
// own step.
func (e *Engine) next(ctx context.Context, s feed.Stream) ([]market.Bar, bool, error) {
	var group []market.Bar
	for {
		b, ok, err := e.read(ctx, s)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return group, len(group) > 0, nil
		}
		if len(group) > 0 && !b.Time.Equal(group[0].Time) {
			e.pending = &b
			return group, true, nil
		}
		group = append(group, b)
		if e.live() {
			return group, true, nil
		}
	}
}

func (e *Engine) read(ctx context.Context, s feed.Stream) (market.Bar, bool, error) {
	if e.pending != nil {
		b := *e.pending
		e.pending = nil
		return b, true, nil
	}
	for {
		b, ok, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, feed.ErrOutOfOrder) || errors.Is(err, feed.ErrDataGap) {
				e.warn(WarnDataGap, "", "%v", err)
				continue
			}
			return b, false, err
		}
		if !ok {
			return b, false, nil
		}
		switch {
		case !e.resumeAfter.IsZero() && !b.Time.After(e.resumeAfter):
			continue
		case !e.end.IsZero() && !b.Time.Before(e.end):
			return b, false, nil
		case !e.start.IsZero() && b.Time.Before(e.start):
			continue
		case !e.now.IsZero() && b.Time.Before(e.now):
			e.warn(WarnDataGap, b.Symbol, "bar at %s arrived after %s, dropped", b.Time.Format(time.RFC3339), e.now.Format(time.RFC3339))
			continue
		}
		return b, true, nil
	}
}

// step processes one timestamp. Only ledger invariant violations and
// configuration errors are returned; everything else becomes a warning.
func (e *Engine) step(ctx context.Context, bars []market.Bar) error {
	started := time.Now()
	t := bars[0].Time

	if e.clock == nil {
		clock, err := session.New(e.cfg.SessionConfig(), t)
		if err != nil {
			return &config.FieldError{Field: "session", Msg: err.Error()}
		}
		e.clock = clock
	}
	slot := e.clock.Locate(t)
	if !slot.Tradable() {
		e.log.WithField("time", t).WithField("phase", slot.Phase.String()).Debug("skipping bar outside session")
		return nil
	}

	e.bar++
	e.day = slot.Day
	e.now = t
	if e.first.IsZero() {
		e.first = t
	}
	date := e.date(t)

	tracked := e.universe.Universe(date)
	fresh := make(map[string]market.Bar, len(bars))
	for _, b := range bars {
		if !contains(tracked, b.Symbol) {
			e.log.WithField("symbol", b.Symbol).Debug("bar outside universe")
			continue
		}
		fresh[b.Symbol] = b
	}

	for _, sym := range sortedKeys(fresh) {
		b := fresh[sym]
		if err := e.corporateActions(b); err != nil {
			return err
		}
		e.last[sym] = b
		if q, ok := e.broker.(Quoter); ok {
			q.UpdateQuote(b)
		}
	}

	data := make(market.Slice, len(tracked))
	for _, sym := range tracked {
		if b, ok := fresh[sym]; ok {
			data[sym] = b
			continue
		}
		if b, ok := e.last[sym]; ok {
			data[sym] = b
			if !e.live() {
				e.warn(WarnDataGap, sym, "no bar at %s, carrying bar of %s",
					t.Format(time.RFC3339), b.Time.Format(time.RFC3339))
			}
		}
	}

	e.store.Begin(e.bar)
	for _, sym := range data.Symbols() {
		e.observe(data[sym])
	}

	e.ledger.MarkBar(slot.Day, t)

	lookback := e.bar < e.cfg.Lookback
	if lookback {
		e.phase = Warmup
	} else {
		e.phase = Trading
	}

	marks := e.marks()
	c := &Context{
		Bar:      e.bar,
		Time:     t,
		Date:     date,
		Slot:     slot,
		Mode:     e.cfg.Mode,
		RunMode:  e.cfg.RunMode,
		Market:   e.cfg.Market,
		Lookback: e.cfg.Lookback,
		Assets:   tracked,
		Data:     data,
		Params:   e.cfg.Params,
		Vars:     e.vars,
		Trader:   &Trader{l: e.ledger, rules: e.broker, marks: marks},
		store:    e.store,
		lookback: lookback,
	}
	e.refreshVars(c)

	if err := e.callStrategy(c); err != nil {
		e.warn(WarnStrategy, "", "%s: %v", e.strategy.Name(), err)
		if n := len(c.requests); n > 0 {
			e.warn(WarnStrategy, "", "%d target request(s) of the failed bar dropped", n)
		}
		c.requests = nil
	}

	if lookback && len(c.requests) > 0 {
		e.warn(WarnLookback, "", "%d target request(s) dropped during lookback", len(c.requests))
		c.requests = nil
	}
	for _, r := range c.requests {
		if err := e.rebalance(ctx, r); err != nil {
			return err
		}
	}

	e.recordValues(c.records)
	e.recordEquity()
	e.drainNotices()
	e.publish()
	e.maybeCheckpoint()

	metrics.BarsTotal.WithLabelValues(e.cfg.Mode).Inc()
	metrics.StepSeconds.Observe(time.Since(started).Seconds())
	return nil
}

func (e *Engine) date(t time.Time) time.Time {
	d := t.UTC().Add(e.clock.Config().DayOffset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// observe appends the configured fields and every extra field of b.
func (e *Engine) observe(b market.Bar) {
	for _, f := range e.fields {
		if v, ok := b.Get(f); ok {
			e.store.Observe(series.Key(b.Symbol, f), v)
		}
	}
	for _, k := range sortedKeys(b.Fields) {
		e.store.Observe(series.Key(b.Symbol, k), b.Fields[k])
	}
}

// marks values every ticker seen so far at its last known price.
func (e *Engine) marks() map[string]float64 {
	out := make(map[string]float64, len(e.last))
	for sym, b := range e.last {
		out[sym] = b.Mark()
	}
	return out
}

func (e *Engine) refreshVars(c *Context) {
	prices := make(map[string]market.Value, len(c.Data))
	for sym, b := range c.Data {
		prices[sym] = market.Num(b.Mark())
	}
	e.vars.set(KeyBar, market.Num(float64(c.Bar)))
	e.vars.set(KeyDate, market.Text(c.Date.Format("2006-01-02")))
	e.vars.set(KeyMode, market.Text(c.Mode))
	e.vars.set(KeyMarket, market.Text(c.Market))
	e.vars.set(KeyLookback, market.Num(float64(c.Lookback)))
	e.vars.set(KeyData, market.Object(prices))
	e.vars.set(KeyIsUnstable, flag(e.store.Unstable()))
	e.vars.set(KeyIsLookback, flag(c.lookback))
}

func (e *Engine) callStrategy(c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.strategy.OnBar(c)
}

// corporateActions applies the dividend and split announced on b before the
// bar's price replaces the previous one. A dividend d becomes the price factor
// 1 - d/previous close.
func (e *Engine) corporateActions(b market.Bar) error {
	if d, ok := b.Dividend(); ok {
		prev, seen := e.last[b.Symbol]
		switch {
		case !seen || prev.Mark() <= 0:
			e.warn(WarnDataGap, b.Symbol, "dividend %v without a previous price, ignored", d)
		case d >= prev.Mark():
			e.warn(WarnDataGap, b.Symbol, "dividend %v not below previous price %v, ignored", d, prev.Mark())
		default:
			if err := e.applyFactor(b.Symbol, ledger.Dividend, 1-d/prev.Mark()); err != nil {
				return err
			}
		}
	}
	if f, ok := b.Split(); ok {
		if err := e.applyFactor(b.Symbol, ledger.Split, f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFactor(symbol string, kind ledger.Side, factor float64) error {
	adjusted, err := e.ledger.ApplyFactor(symbol, kind, factor, e.now)
	if err != nil {
		return e.ledgerError(symbol, err)
	}
	if len(adjusted) == 0 {
		return nil
	}
	events := e.ledger.Events()
	e.recordTrade(events[len(events)-1])
	for _, tr := range adjusted {
		e.recordTrade(*tr)
	}
	e.log.WithFields(logrus.Fields{"symbol": symbol, "kind": string(kind), "factor": factor}).Info("position adjusted")
	return nil
}

func (e *Engine) rebalance(ctx context.Context, r request) error {
	plan := rebalance.Compute(r.weights, e.ledger, e.broker, e.marks(), e.policy, r.dir)
	for _, w := range plan.Warnings {
		e.warn(planWarningKind(w.Kind), w.Symbol, "%s", w.Msg)
	}
	for _, in := range plan.Instructions {
		if err := e.execute(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// execute sends one instruction to the broker and applies the fill.
func (e *Engine) execute(ctx context.Context, in rebalance.Instruction) error {
	req := broker.OrderRequest{
		Symbol:  in.Symbol,
		Side:    in.Side,
		Volume:  in.Volume,
		Price:   in.Price,
		Intent:  in.Intent,
		TradeID: in.TradeID,
		Full:    in.Full,
		Time:    e.now,
	}
	metrics.OrdersTotal.WithLabelValues(in.Symbol, string(in.Side)).Inc()

	if in.Intent == broker.IntentClose {
		req.ClientID = e.ids.New(e.now)
		fill, err := e.broker.Order(ctx, req)
		if err != nil {
			e.orderWarning(in, err)
			return nil
		}
		if fill.Volume <= 0 {
			return nil
		}
		fill = e.stamp(fill)
		tr, err := e.ledger.Close(in.TradeID, fill, "rebalance")
		if err != nil {
			return e.ledgerError(in.Symbol, err)
		}
		metrics.FilledVolume.WithLabelValues(in.Symbol, string(in.Side)).Add(fill.Volume)
		e.recordTrade(*tr)
		return nil
	}

	tr, err := e.ledger.Create(in.Symbol, in.Side, in.Volume, e.now, e.day)
	if err != nil {
		return e.ledgerError(in.Symbol, err)
	}
	req.ClientID = tr.ID
	fill, err := e.broker.Order(ctx, req)
	if err != nil {
		e.orderWarning(in, err)
		fill = ledger.Fill{}
	}
	fill = e.stamp(fill)
	tr, err = e.ledger.ApplyFill(tr.ID, fill)
	if err != nil {
		return e.ledgerError(in.Symbol, err)
	}
	// Orders do not rest between bars: drop the unfilled remainder.
	if fill.Volume > 0 && math.Abs(tr.OpenVolume) < math.Abs(tr.Requested) {
		if tr, err = e.ledger.Cancel(tr.ID, e.now); err != nil {
			return e.ledgerError(in.Symbol, err)
		}
	}
	if fill.Volume > 0 {
		metrics.FilledVolume.WithLabelValues(in.Symbol, string(in.Side)).Add(fill.Volume)
		e.recordTrade(*tr)
	}
	return nil
}

func (e *Engine) stamp(f ledger.Fill) ledger.Fill {
	if f.Time.IsZero() {
		f.Time = e.now
	}
	return f
}

func (e *Engine) orderWarning(in rebalance.Instruction, err error) {
	kind := WarnOrderRejected
	if errors.Is(err, broker.ErrBrokerUnavailable) {
		kind = WarnBrokerUnavailable
	}
	e.warn(kind, in.Symbol, "%s %v: %v", in.Side, in.Volume, err)
}

// ledgerError halts on invariant violations and downgrades anything else.
func (e *Engine) ledgerError(symbol string, err error) error {
	if errors.Is(err, ledger.ErrInvariant) {
		return fmt.Errorf("bar %d: %w", e.bar, err)
	}
	e.warn(WarnOrderRejected, symbol, "%v", err)
	return nil
}

func (e *Engine) recordTrade(tr ledger.Trade) {
	if err := e.journal.RecordTrade(journal.FromTrade(e.runID, tr)); err != nil {
		e.warn(WarnRecorder, tr.Symbol, "record trade %s: %v", tr.ID, err)
	}
}

func (e *Engine) recordValues(data map[string]market.Value) {
	if len(data) == 0 {
		return
	}
	rec := journal.Record{RunID: e.runID, Bar: e.bar, Time: e.now, Data: data}
	if err := e.journal.RecordValues(rec); err != nil {
		e.warn(WarnRecorder, "", "record values: %v", err)
	}
}

func (e *Engine) recordEquity() {
	marks := e.marks()
	snap := journal.EquitySnapshot{
		RunID:      e.runID,
		Time:       e.now,
		Bar:        e.bar,
		Cash:       e.ledger.Cash(),
		Equity:     e.ledger.Equity(marks),
		Realized:   e.ledger.Realized(),
		Unrealized: e.ledger.Unrealized(marks),
		Positions:  len(e.ledger.Symbols()),
	}
	e.equity = append(e.equity, snap)
	metrics.Equity.Set(snap.Equity)
	if err := e.journal.RecordEquity(snap); err != nil {
		e.warn(WarnRecorder, "", "record equity: %v", err)
	}
}

// drainNotices reports late fills and rejections that arrived since the last
// step. They are not applied to the ledger.
func (e *Engine) drainNotices() {
	n, ok := e.broker.(broker.Notifier)
	if !ok {
		return
	}
	ch := n.Notices()
	for {
		select {
		case note, open := <-ch:
			if !open {
				return
			}
			if note.Err != nil {
				e.warn(WarnLateNotice, note.Symbol, "order %s: %v", note.ClientID, note.Err)
			} else {
				e.warn(WarnLateNotice, note.Symbol, "order %s filled %v @ %v after timeout",
					note.ClientID, note.Fill.Volume, note.Fill.Price)
			}
		default:
			return
		}
	}
}

// liquidate closes every open trade at its last mark unless the run is open ended.
func (e *Engine) liquidate() error {
	if e.cfg.OpenEnd || e.bar < 0 {
		return nil
	}
	closed, missing, err := e.ledger.CloseAll(e.marks(), e.now, EndOfRun)
	if err != nil {
		return e.ledgerError("", err)
	}
	for _, tr := range closed {
		e.recordTrade(*tr)
	}
	for _, sym := range missing {
		e.warn(WarnDataGap, sym, "no price to liquidate at end of run")
	}
	if len(closed) > 0 {
		e.log.WithField("trades", len(closed)).Info("liquidated at end of run")
	}
	e.publish()
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
