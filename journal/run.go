package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Run summarises one engine run.
type Run struct {
	RunID    string
	Created  time.Time
	Mode     string
	Market   string
	DataType string
	Assets   []string
	Strategy string
	Params   map[string]any

	Start time.Time
	End   time.Time
	Bars  int

	Trades   int
	Wins     int
	Losses   int
	Warnings int

	StartEquity float64
	EndEquity   float64

	// Derived by Summarize.
	NetPnL       float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64

	Notes []string
}

// Summarize fills the trade statistics and performance figures of r from the
// run's trades and equity curve. Dividend and split rows are not trades.
func (r *Run) Summarize(trades []TradeRecord, equity []EquitySnapshot) {
	r.Trades, r.Wins, r.Losses = 0, 0, 0
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.Side != "B" && t.Side != "S" {
			continue
		}
		if t.Status != "closed" && t.Status != "closing" {
			continue
		}
		r.Trades++
		switch {
		case t.PnL > 0:
			r.Wins++
			grossProfit += t.PnL
		case t.PnL < 0:
			r.Losses++
			grossLoss -= t.PnL
		}
	}
	if r.Trades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Trades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	}

	if len(equity) > 0 {
		r.EndEquity = equity[len(equity)-1].Equity
	}
	r.NetPnL = r.EndEquity - r.StartEquity
	if r.StartEquity != 0 {
		r.ReturnPct = 100 * r.NetPnL / r.StartEquity
	}
	r.MaxDDPct = maxDrawdownPct(r.StartEquity, equity)
}

func maxDrawdownPct(start float64, equity []EquitySnapshot) float64 {
	peak := start
	var dd float64
	for _, e := range equity {
		peak = math.Max(peak, e.Equity)
		if peak > 0 {
			dd = math.Max(dd, 100*(peak-e.Equity)/peak)
		}
	}
	return dd
}

func (r Run) paramsJSON() string {
	if len(r.Params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.Params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// PrintRun writes a human readable summary.
func PrintRun(w io.Writer, r Run) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Run Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Created:       %s\n", r.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Mode:          %s\n", r.Mode)
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Market:        %s/%s\n", r.Market, r.DataType)
	fmt.Fprintf(w, "Assets:        %s\n", strings.Join(r.Assets, ","))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Bars:          %d\n", r.Bars)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(w, "Warnings:      %d\n", r.Warnings)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Equity:  %.2f\n", r.StartEquity)
	fmt.Fprintf(w, "End Equity:    %.2f\n", r.EndEquity)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", r.NetPnL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)
	if r.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	}
	if r.MaxDDPct > 0 {
		fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDDPct)
	}
	for _, n := range r.Notes {
		fmt.Fprintf(w, "Note:          %s\n", n)
	}
}
