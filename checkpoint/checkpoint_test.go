package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/robusta/internal/id"
	"github.com/rustyeddy/robusta/ledger"
	"github.com/rustyeddy/robusta/market"
	"github.com/rustyeddy/robusta/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	l := ledger.New(1000, id.NewGenerator(3))
	tr, err := l.Create("VNM", ledger.Buy, 10, t0, 0)
	require.NoError(t, err)
	_, err = l.ApplyFill(tr.ID, ledger.Fill{Volume: 10, Price: 70, Time: t0})
	require.NoError(t, err)

	s := series.NewStore(3)
	for bar := 0; bar < 4; bar++ {
		s.Begin(bar)
		s.Observe(series.Key("VNM", "c"), market.Num(float64(70+bar)))
	}

	state := State{
		RunID:    "R1",
		Bar:      3,
		Day:      3,
		LastTime: t0.AddDate(0, 0, 3),
		Ledger:   l.Snapshot(),
		Series:   s.Snapshot(),
		Vars:     map[string]market.Value{"count": market.Num(4), "label": market.Text("x")},
		Last:     map[string]market.Bar{"VNM": {Symbol: "VNM", Time: t0, Close: 73}},
	}
	path := filepath.Join(t.TempDir(), "run.ckpt")
	require.NoError(t, Save(path, state))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, "R1", got.RunID)
	assert.Equal(t, 3, got.Bar)
	assert.True(t, got.LastTime.Equal(state.LastTime))

	restored := ledger.Restore(got.Ledger, id.NewGenerator(4))
	assert.Equal(t, l.Cash(), restored.Cash())
	assert.Equal(t, 10.0, restored.Position("VNM"))

	rs := series.Restore(got.Series)
	assert.Equal(t, []float64{73, 72, 71}, rs.Floats(series.Key("VNM", "c"), 3))
	assert.True(t, got.Vars["label"].Equal(market.Text("x")))
	assert.Equal(t, 73.0, got.Last["VNM"].Close)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(bad, []byte("not xz"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
