package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/robusta/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

// collect drains s into a slice.
func collect(ctx context.Context, s Stream) ([]market.Bar, error) {
	var out []market.Bar
	for {
		b, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, b)
	}
}

const sampleCSV = `date,ticker,open,high,low,close,volume,pe,sector,dividend
2024-01-02,AAA,10,11,9,10.5,1000,12.5,bank,
2024-01-02,BBB,20,21,19,20.5,500,,steel,
2024-01-03,AAA,10.5,12,10,11,1200,12.7,bank,0.5
2024-01-04,AAA,11,11,8,9,900,,bank,
`

func TestCSVStreamParsesColumns(t *testing.T) {
	s, err := NewCSVStream(strings.NewReader(sampleCSV), Key{})
	require.NoError(t, err)

	bars, err := collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, bars, 4)

	b := bars[0]
	assert.Equal(t, day(2), b.Time)
	assert.Equal(t, "AAA", b.Symbol)
	assert.Equal(t, 10.5, b.Close)
	assert.Equal(t, 1000.0, b.Volume)

	pe, ok := b.Number("pe")
	assert.True(t, ok)
	assert.Equal(t, 12.5, pe)
	sector, ok := b.Get("sector")
	require.True(t, ok)
	assert.Equal(t, market.KindText, sector.Kind())

	_, ok = bars[1].Get("pe")
	assert.False(t, ok, "empty cells are absent")

	div, ok := bars[2].Dividend()
	assert.True(t, ok)
	assert.Equal(t, 0.5, div)
}

func TestCSVStreamFilters(t *testing.T) {
	key := Key{Assets: []string{"AAA"}, StartDate: day(3), EndDate: day(4), BarFields: "c"}
	s, err := NewCSVStream(strings.NewReader(sampleCSV), key)
	require.NoError(t, err)

	bars, err := collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, day(3), bars[0].Time)
	assert.Equal(t, 11.0, bars[0].Close)
	assert.Equal(t, 0.0, bars[0].Open, "fields outside the selection are dropped")
	_, ok := bars[0].Dividend()
	assert.True(t, ok, "event fields are always kept")
}

func TestCSVStreamDepth(t *testing.T) {
	src := "time,symbol,bid1,bidvol1,ask1,askvol1,last,lastvol\n" +
		"2024-01-02T02:15:00Z,AAA,9.9,100,10.1,200,10,50\n"
	s, err := NewCSVStream(strings.NewReader(src), Key{})
	require.NoError(t, err)

	b, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, b.IsTick())
	assert.Equal(t, 9.9, b.Depth.BestBid())
	assert.Equal(t, 10.1, b.Depth.BestAsk())
	assert.Equal(t, 10.0, b.Mark())
}

func TestCSVStreamErrors(t *testing.T) {
	_, err := NewCSVStream(strings.NewReader("a,b\n"), Key{})
	assert.Error(t, err, "missing time and symbol")

	s, err := NewCSVStream(strings.NewReader("time,symbol,c\n2024-01-03,A,1\n2024-01-02,A,1\n"), Key{})
	require.NoError(t, err)
	_, err = collect(context.Background(), s)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	s, err = NewCSVStream(strings.NewReader("time,symbol,c\n2024-01-03,A,abc\n"), Key{})
	require.NoError(t, err)
	_, _, err = s.Next(context.Background())
	assert.Error(t, err)
}

func TestCSVSourceReplaysAndReadsXZ(t *testing.T) {
	dir := t.TempDir()
	src := CSVSource{Dir: dir}
	key := Key{Market: "vn", DataType: "daily"}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(src.Path(key)+".xz", buf.Bytes(), 0o644))

	read := func() []market.Bar {
		s, err := src.Open(context.Background(), key)
		require.NoError(t, err)
		defer s.Close()
		bars, err := collect(context.Background(), s)
		require.NoError(t, err)
		return bars
	}
	first := read()
	assert.Len(t, first, 4)
	assert.Equal(t, first, read(), "reopening restarts the stream")

	_, err = src.Open(context.Background(), Key{Market: "us", DataType: "daily"})
	assert.Error(t, err)
}

func TestMemorySourceOrders(t *testing.T) {
	src := NewMemorySource(
		market.Bar{Symbol: "B", Time: day(2), Close: 2},
		market.Bar{Symbol: "A", Time: day(3), Close: 3},
		market.Bar{Symbol: "A", Time: day(2), Close: 1},
	)
	s, err := src.Open(context.Background(), Key{})
	require.NoError(t, err)
	bars, err := collect(context.Background(), s)
	require.NoError(t, err)

	var got []string
	for _, b := range bars {
		got = append(got, fmt.Sprintf("%s@%d", b.Symbol, b.Time.Day()))
	}
	assert.Equal(t, []string{"A@2", "B@2", "A@3"}, got)
}

func TestQueue(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(market.Bar{Symbol: "A"}))
	assert.ErrorIs(t, q.TryPublish(market.Bar{Symbol: "B"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	q.Close()
	assert.ErrorIs(t, q.TryPublish(market.Bar{}), ErrQueueClosed)

	b, ok, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "queued bars survive Close")
	assert.Equal(t, "A", b.Symbol)

	_, ok, err = q.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = NewQueue(1).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWSStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i, sym := range []string{"AAA", "ZZZ", "AAA"} {
			b := market.Bar{Symbol: sym, Time: day(2 + i), Close: float64(10 + i)}
			msg, _ := json.Marshal(b)
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := DialWS(ctx, url, Key{Assets: []string{"AAA"}}, 16, nil)
	require.NoError(t, err)
	defer s.Close()

	bars, err := collect(ctx, s)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.0, bars[0].Close)
	assert.Equal(t, 12.0, bars[1].Close)
	assert.Equal(t, 0, s.Dropped())
}

func TestHTTPStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"type": "HEARTBEAT"})
		_ = enc.Encode(streamMsg{Type: "BAR", Bar: market.Bar{Symbol: "AAA", Time: day(2), Close: 10}})
		_ = enc.Encode(streamMsg{Type: "BAR", Bar: market.Bar{Symbol: "AAA", Time: day(3), Close: 11}})
	}))
	defer srv.Close()

	s, err := OpenHTTP(context.Background(), srv.Client(), srv.URL, "tok", Key{})
	require.NoError(t, err)
	defer s.Close()

	bars, err := collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 11.0, bars[1].Close)
}

func TestRecordRoundTrip(t *testing.T) {
	src := NewMemorySource(
		market.Bar{Symbol: "A", Time: day(2), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10,
			Fields: market.Fields{"pe": market.Num(7)}},
		market.Bar{Symbol: "A", Time: day(3), Close: 2},
	)
	s, err := src.Open(context.Background(), Key{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	n, err := Record(context.Background(), s, f, []string{"pe"}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, 2, n)

	back, err := OpenCSV(path, Key{})
	require.NoError(t, err)
	defer back.Close()
	bars, err := collect(context.Background(), back)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, src.Bars[0].Close, bars[0].Close)
	pe, ok := bars[0].Number("pe")
	assert.True(t, ok)
	assert.Equal(t, 7.0, pe)
}
