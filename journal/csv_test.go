package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyeddy/robusta/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")
	recordsPath := filepath.Join(dir, "records.csv")

	j, err := NewCSV(tradesPath, equityPath, recordsPath)
	require.NoError(t, err)

	require.NoError(t, j.RecordTrade(sampleTrade("T1", -12.5)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{RunID: "R1", Time: openT, Bar: 0, Cash: 50, Equity: 100, Positions: 1}))
	require.NoError(t, j.RecordValues(Record{RunID: "R1", Bar: 0, Time: openT,
		Data: map[string]market.Value{"b": market.Num(2), "a": market.Text("x")}}))
	require.NoError(t, j.Close())

	trades := readCSV(t, tradesPath)
	require.Len(t, trades, 2)
	assert.Equal(t, tradeHeader, trades[0])
	assert.Equal(t, "T1", trades[1][1])
	assert.Equal(t, "-12.500000", trades[1][11])
	assert.Equal(t, "2024-01-02T02:15:00Z", trades[1][7])

	equity := readCSV(t, equityPath)
	require.Len(t, equity, 2)
	assert.Equal(t, "100.000000", equity[1][4])

	records := readCSV(t, recordsPath)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"R1", "0", "2024-01-02T02:15:00Z", "a", "x"}, records[1])
	assert.Equal(t, "b", records[2][3])
}

func TestCSVJournalWithoutRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(filepath.Join(dir, "t.csv"), filepath.Join(dir, "e.csv"), "")
	require.NoError(t, err)
	assert.NoError(t, j.RecordValues(Record{Data: map[string]market.Value{"a": market.Num(1)}}))
	assert.NoError(t, j.Close())
}

func TestCSVJournalBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(filepath.Join(t.TempDir(), "missing", "t.csv"), "e.csv", "")
	assert.Error(t, err)
}
