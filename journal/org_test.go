package journal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTradeOrg(t *testing.T) {
	t.Parallel()

	tr := sampleTrade("01HQXYZABCDEFG", 150)
	out := FormatTradeOrg(tr)

	assert.True(t, strings.HasPrefix(out, "** Trade: VNM B (01HQXYZA)\n"))
	for _, want := range []string{
		":PROPERTIES:",
		":TRADE_ID: 01HQXYZABCDEFG",
		":RUN_ID: R1",
		":VOLUME: 100",
		":OPEN_PRICE: 70.5000",
		":OPEN_TIME: 2024-01-02T02:15:00Z",
		":PNL: 150.00",
		":STATUS: closed",
		":END:",
		"*** Thesis",
		"*** Review",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatTradeOrgOpenTrade(t *testing.T) {
	t.Parallel()

	tr := sampleTrade("T", 0)
	tr.CloseTime = time.Time{}
	assert.Contains(t, FormatTradeOrg(tr), ":CLOSE_TIME: -")
}

func TestFormatTradesOrg(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", FormatTradesOrg(nil))
	out := FormatTradesOrg([]TradeRecord{sampleTrade("A", 1), sampleTrade("B", 2)})
	assert.Equal(t, 2, strings.Count(out, ":PROPERTIES:"))
	assert.Contains(t, out, "- \n\n\n** Trade: VNM B (B)")
}

func TestPrintRun(t *testing.T) {
	t.Parallel()

	r := Run{RunID: "R9", Strategy: "buy-hold", StartEquity: 100}
	r.Summarize([]TradeRecord{
		sampleTrade("a", 30),
		sampleTrade("b", -10),
		{Side: "D", Status: "closed"},
	}, []EquitySnapshot{{Equity: 120}, {Equity: 90}, {Equity: 120}})

	assert.Equal(t, 2, r.Trades)
	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 3.0, r.ProfitFactor, 1e-9)
	assert.InDelta(t, 25.0, r.MaxDDPct, 1e-9)
	assert.InDelta(t, 20.0, r.ReturnPct, 1e-9)

	var buf bytes.Buffer
	PrintRun(&buf, r)
	assert.Contains(t, buf.String(), "Run ID:        R9")
	assert.Contains(t, buf.String(), "Profit Factor: 3.00")

	org, err := FormatRunOrg(r, nil)
	require.NoError(t, err)
	assert.Contains(t, org, ":TRADES:      2")
}
