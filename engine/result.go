package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/robusta/checkpoint"
	"github.com/rustyeddy/robusta/journal"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/rustyeddy/robusta/series"
	"github.com/rustyeddy/robusta/session"
	"github.com/sirupsen/logrus"
)

// Result is what a run leaves behind.
type Result struct {
	RunID    string
	Strategy string
	Canceled bool
	Err      error // fatal error that halted the run

	Start time.Time
	End   time.Time
	Bars  int

	Capital  float64
	Cash     float64
	Realized float64
	Equity   float64

	Trades      []ledger.Trade // every order trade, canceled ones included
	Events      []ledger.Trade // dividend and split rows
	Warnings    []Warning
	EquityCurve []journal.EquitySnapshot

	Summary journal.Run
}

// Closed returns the trades that realized PnL.
func (r *Result) Closed() []ledger.Trade {
	var out []ledger.Trade
	for _, t := range r.Trades {
		if t.Status == ledger.Closed || t.Status == ledger.Closing {
			out = append(out, t)
		}
	}
	return out
}

// Print writes the run summary followed by the warnings.
func (r *Result) Print(w io.Writer) {
	journal.PrintRun(w, r.Summary)
	if len(r.Warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Warnings")
	fmt.Fprintln(w, "--------------------------------------------------")
	for _, wn := range r.Warnings {
		fmt.Fprintln(w, wn.String())
	}
}

// finish builds the result and records the run summary.
func (e *Engine) finish(canceled bool) *Result {
	marks := e.marks()
	trades := e.ledger.Trades(ledger.Filter{})
	res := &Result{
		RunID:       e.runID,
		Strategy:    e.strategy.Name(),
		Canceled:    canceled,
		Start:       e.first,
		End:         e.now,
		Bars:        e.bar + 1,
		Capital:     e.ledger.Capital(),
		Cash:        e.ledger.Cash(),
		Realized:    e.ledger.Realized(),
		Equity:      e.ledger.Equity(marks),
		Trades:      trades,
		Events:      e.ledger.Events(),
		EquityCurve: append([]journal.EquitySnapshot(nil), e.equity...),
	}

	run := journal.Run{
		RunID:       e.runID,
		Created:     e.wall(),
		Mode:        e.cfg.Mode,
		Market:      e.cfg.Market,
		DataType:    e.cfg.DataType,
		Assets:      append([]string(nil), e.cfg.Assets...),
		Strategy:    res.Strategy,
		Params:      e.cfg.Params,
		Start:       res.Start,
		End:         res.End,
		Bars:        res.Bars,
		StartEquity: res.Capital,
		EndEquity:   res.Equity,
	}
	records := make([]journal.TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = journal.FromTrade(e.runID, t)
	}
	run.Summarize(records, e.equity)
	if canceled {
		run.Notes = append(run.Notes, "halted before the end of the feed")
	}

	if rr, ok := e.journal.(journal.RunRecorder); ok {
		run.Warnings = len(e.warnings)
		if err := rr.RecordRun(run); err != nil {
			e.warn(WarnRecorder, "", "record run: %v", err)
		}
	}
	run.Warnings = len(e.warnings)
	res.Warnings = e.Warnings()
	res.Summary = run

	e.log.WithFields(logrus.Fields{
		"bars":     res.Bars,
		"trades":   run.Trades,
		"net_pnl":  run.NetPnL,
		"warnings": run.Warnings,
	}).Info("run finished")
	return res
}

// Snapshot is a read-only copy of run progress published after every step.
type Snapshot struct {
	RunID    string
	Phase    Phase
	Bar      int
	Time     time.Time
	Cash     float64
	Equity   float64
	Realized float64
	Open     []ledger.Trade
	Warnings int
}

func (e *Engine) publish() {
	marks := e.marks()
	e.snap.Store(&Snapshot{
		RunID:    e.runID,
		Phase:    e.phase,
		Bar:      e.bar,
		Time:     e.now,
		Cash:     e.ledger.Cash(),
		Equity:   e.ledger.Equity(marks),
		Realized: e.ledger.Realized(),
		Open:     e.ledger.Trades(ledger.Filter{Status: []ledger.Status{ledger.Open, ledger.Closing}}),
		Warnings: len(e.warnings),
	})
}

// Checkpoint captures the state after the last completed step.
func (e *Engine) Checkpoint() checkpoint.State {
	s := checkpoint.State{
		Version:  checkpoint.Version,
		RunID:    e.runID,
		Saved:    e.wall(),
		Bar:      e.bar,
		Day:      e.day,
		LastTime: e.now,
		Ledger:   e.ledger.Snapshot(),
		Series:   e.store.Snapshot(),
		Vars:     e.vars.user(),
		Last:     make(map[string]market.Bar, len(e.last)),
	}
	if e.clock != nil {
		s.Origin = e.clock.Origin()
	}
	for k, b := range e.last {
		s.Last[k] = b
	}
	return s
}

func (e *Engine) maybeCheckpoint() {
	cp := e.cfg.Checkpoint
	if cp.Every <= 0 || cp.Path == "" || (e.bar+1)%cp.Every != 0 {
		return
	}
	if err := checkpoint.Save(cp.Path, e.Checkpoint()); err != nil {
		e.warn(WarnRecorder, "", "checkpoint: %v", err)
		return
	}
	e.log.WithField("bar", e.bar).Debug("checkpoint saved")
}

// restore continues from s: bars at or before s.LastTime are skipped.
func (e *Engine) restore(s checkpoint.State) error {
	if s.Version != checkpoint.Version {
		return fmt.Errorf("%w: got %d want %d", checkpoint.ErrVersion, s.Version, checkpoint.Version)
	}
	if !s.Origin.IsZero() {
		clock, err := session.New(e.cfg.SessionConfig(), s.Origin)
		if err != nil {
			return err
		}
		e.clock = clock
	}
	if s.RunID != "" {
		e.runID = s.RunID
	}
	e.ledger = ledger.Restore(s.Ledger, e.ids)
	e.store = series.Restore(s.Series)
	for k, v := range s.Vars {
		e.vars.set(k, v)
	}
	q, quotes := e.broker.(Quoter)
	for k, b := range s.Last {
		e.last[k] = b
		if quotes {
			q.UpdateQuote(b)
		}
	}
	e.bar = s.Bar
	e.day = s.Day
	e.now = s.LastTime
	e.resumeAfter = s.LastTime
	e.resumed = true
	if e.bar >= e.cfg.Lookback {
		e.phase = Trading
	}
	return nil
}
