package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/robusta/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

var (
	openT  = time.Date(2024, 1, 2, 2, 15, 0, 0, time.UTC)
	closeT = time.Date(2024, 1, 5, 7, 45, 0, 0, time.UTC)
)

func sampleTrade(id string, pnl float64) TradeRecord {
	return TradeRecord{
		RunID: "R1", TradeID: id, Symbol: "VNM", Side: "B",
		Volume: 100, OpenPrice: 70.5, ClosePrice: 72,
		OpenTime: openT, CloseTime: closeT, Bars: 4, Days: 3,
		PnL: pnl, Status: "closed", Reason: "target",
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())
	for _, table := range []string{"runs", "trades", "equity", "records"} {
		assert.True(t, found[table], table)
	}
}

func TestSQLiteTradesUpsert(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	open := sampleTrade("T1", 0)
	open.Status = "open"
	open.CloseTime = time.Time{}
	require.NoError(t, j.RecordTrade(open))
	require.NoError(t, j.RecordTrade(sampleTrade("T1", 150)))
	require.NoError(t, j.RecordTrade(sampleTrade("T2", -20)))

	got, err := j.GetTrade("R1", "T1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, 150.0, got.PnL)
	assert.True(t, got.CloseTime.Equal(closeT))

	all, err := j.ListTrades("R1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = j.GetTrade("R1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteEquityAndRecords(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	for i, eq := range []float64{100, 110, 95} {
		require.NoError(t, j.RecordEquity(EquitySnapshot{
			RunID: "R1", Time: openT.Add(time.Duration(i) * 24 * time.Hour), Bar: i, Equity: eq, Cash: eq,
		}))
	}
	require.NoError(t, j.RecordValues(Record{
		RunID: "R1", Bar: 1, Time: openT,
		Data: map[string]market.Value{"sma": market.Num(10.5), "note": market.Text("entry")},
	}))

	eq, err := j.ListEquity("R1")
	require.NoError(t, err)
	require.Len(t, eq, 3)
	assert.Equal(t, 95.0, eq[2].Equity)

	recs, err := j.ListRecords("R1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	sma, ok := recs[0].Data["sma"].Float()
	assert.True(t, ok)
	assert.Equal(t, 10.5, sma)
}

func TestSQLiteRunRoundTripAndOrg(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	run := Run{
		RunID: "R1", Created: openT, Mode: "test", Market: "vn", DataType: "daily",
		Assets: []string{"VNM", "FPT"}, Strategy: "ema-cross", Params: map[string]any{"fast": 5.0},
		Start: openT, End: closeT, Bars: 4, StartEquity: 100, EndEquity: 130,
	}
	trades := []TradeRecord{sampleTrade("T1", 150)}
	run.Summarize(trades, []EquitySnapshot{{Equity: 130}})
	require.NoError(t, j.RecordRun(run))
	for _, tr := range trades {
		require.NoError(t, j.RecordTrade(tr))
	}

	got, err := j.GetRun("R1")
	require.NoError(t, err)
	assert.Equal(t, run.Assets, got.Assets)
	assert.Equal(t, run.Params, got.Params)
	assert.Equal(t, 1, got.Wins)
	assert.InDelta(t, 30.0, got.ReturnPct, 1e-9)

	ids, err := j.ListRuns()
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, ids)

	org, err := j.ExportRunOrg("R1")
	require.NoError(t, err)
	assert.Contains(t, org, "* RUN: ema-cross vn/daily")
	assert.Contains(t, org, ":RUN_ID:      R1")
	assert.Contains(t, org, "** Trade: VNM B (T1)")

	_, err = j.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
