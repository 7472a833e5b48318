package journal

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// FormatTradeOrg renders a trade as an Org-mode block. Facts go into the
// PROPERTIES drawer; the Thesis/Execution/Review headings are left for notes.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", t.Symbol, t.Side, shortID(t.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	if t.RunID != "" {
		fmt.Fprintf(&b, ":RUN_ID: %s\n", t.RunID)
	}
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":VOLUME: %g\n", t.Volume)
	fmt.Fprintf(&b, ":OPEN_PRICE: %.4f\n", t.OpenPrice)
	fmt.Fprintf(&b, ":CLOSE_PRICE: %.4f\n", t.ClosePrice)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", orgTime(t.OpenTime))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", orgTime(t.CloseTime))
	fmt.Fprintf(&b, ":BARS: %d\n", t.Bars)
	fmt.Fprintf(&b, ":DAYS: %d\n", t.Days)
	fmt.Fprintf(&b, ":PNL: %.2f\n", t.PnL)
	fmt.Fprintf(&b, ":STATUS: %s\n", t.Status)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// FormatTradesOrg renders trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	blocks := make([]string, len(trades))
	for i, t := range trades {
		blocks[i] = FormatTradeOrg(t)
	}
	return strings.Join(blocks, "\n\n")
}

func orgTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}

var runOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"join":   strings.Join,
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

const runOrgTemplate = `* RUN: {{.Strategy}} {{.Market}}/{{.DataType}}
:PROPERTIES:
:RUN_ID:      {{.RunID}}
:MODE:        {{.Mode}}
:STRATEGY:    {{.Strategy}}
:ASSETS:      {{join .Assets ","}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:BARS:        {{.Bars}}
:START_EQ:    {{printf "%.2f" .StartEquity}}
:END_EQ:      {{printf "%.2f" .EndEquity}}
:NET_PNL:     {{printf "%.2f" .NetPnL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WARNINGS:    {{.Warnings}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Parameters
| Parameter | Value |
|-----------+-------|
{{- range $k, $v := .Params }}
| {{$k}} | {{$v}} |
{{- end }}

** Performance Summary
- Net P/L:       *{{printf "%.2f" .NetPnL}}*
- Return:        *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:  *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:      *{{printf "%.2f" (mul100 .WinRate)}}%*
{{- if ne .ProfitFactor 0.0 }}
- Profit Factor: *{{printf "%.2f" .ProfitFactor}}*
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`

var runOrg = template.Must(template.New("run").Funcs(runOrgFuncs).Parse(runOrgTemplate))

// FormatRunOrg renders a run summary followed by its trades.
func FormatRunOrg(r Run, trades []TradeRecord) (string, error) {
	var buf bytes.Buffer
	if err := runOrg.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("render run %s: %w", r.RunID, err)
	}
	if len(trades) > 0 {
		buf.WriteString("\n")
		buf.WriteString(FormatTradesOrg(trades))
	}
	return buf.String(), nil
}
