package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/robusta/market"
	"github.com/ulikunitz/xz"
)

// CSVSource reads <Dir>/<market>_<dataType>.csv, or the same name with an
// .xz suffix. Rows carry a header; see CSVStream for the column names.
type CSVSource struct {
	Dir string
}

func (s CSVSource) Path(key Key) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%s.csv", key.Market, key.DataType))
}

func (s CSVSource) Open(_ context.Context, key Key) (Stream, error) {
	path := s.Path(key)
	if _, err := os.Stat(path); err != nil {
		if _, xerr := os.Stat(path + ".xz"); xerr == nil {
			path += ".xz"
		}
	}
	return OpenCSV(path, key)
}

// CSVStream parses bar rows. Recognised columns:
//
//	time|date|timestamp, symbol|ticker|instrument,
//	o|open h|high l|low c|close v|volume p a s u f,
//	bid1..bid3 bidvol1..bidvol3 ask1..ask3 askvol1..askvol3 last lastvol
//
// Every other column becomes a named field: numeric when it parses as a
// number, text otherwise. Empty cells are absent.
type CSVStream struct {
	c      io.Closer
	r      *csv.Reader
	cols   []string
	filter filter
	fields []string
	last   time.Time
	line   int
}

// OpenCSV opens a plain or xz-compressed CSV file.
func OpenCSV(path string, key Key) (*CSVStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		r = xr
	}
	s, err := NewCSVStream(r, key)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s.c = f
	return s, nil
}

// NewCSVStream reads the header row from r.
func NewCSVStream(r io.Reader, key Key) (*CSVStream, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	hasTime, hasSymbol := false, false
	for i, h := range header {
		cols[i] = canonical(h)
		hasTime = hasTime || cols[i] == "time"
		hasSymbol = hasSymbol || cols[i] == "symbol"
	}
	if !hasTime || !hasSymbol {
		return nil, fmt.Errorf("header needs time and symbol columns, got %v", header)
	}
	return &CSVStream{
		r:      cr,
		cols:   cols,
		filter: newFilter(key),
		fields: market.ParseBarFields(key.BarFields),
		line:   1,
	}, nil
}

func (s *CSVStream) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

func (s *CSVStream) Next(ctx context.Context) (market.Bar, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		row, err := s.r.Read()
		if err == io.EOF {
			return market.Bar{}, false, nil
		}
		if err != nil {
			return market.Bar{}, false, err
		}
		s.line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		b, err := s.parse(row)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("line %d: %w", s.line, err)
		}
		if b.Time.Before(s.last) {
			return market.Bar{}, false, fmt.Errorf("line %d: %w: %s before %s", s.line, ErrOutOfOrder, b.Time, s.last)
		}
		s.last = b.Time
		if !s.filter.keep(b) {
			continue
		}
		return project(b, s.fields), true, nil
	}
}

func (s *CSVStream) parse(row []string) (market.Bar, error) {
	var b market.Bar
	var depth market.Depth
	hasDepth := false

	for i, raw := range row {
		if i >= len(s.cols) {
			break
		}
		cell := strings.TrimSpace(raw)
		if cell == "" {
			continue
		}
		col := s.cols[i]
		switch col {
		case "time":
			t, err := parseTime(cell)
			if err != nil {
				return b, err
			}
			b.Time = t
			continue
		case "symbol":
			b.Symbol = cell
			continue
		}

		dst := numericTarget(&b, &depth, col)
		if dst == nil {
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				b.Fields = setField(b.Fields, col, market.Num(f))
			} else {
				b.Fields = setField(b.Fields, col, market.Text(cell))
			}
			continue
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return b, fmt.Errorf("bad %s %q: %w", col, cell, err)
		}
		*dst = f
		if isDepthColumn(col) {
			hasDepth = true
		}
	}
	if b.Time.IsZero() || b.Symbol == "" {
		return b, fmt.Errorf("row without time or symbol")
	}
	if hasDepth {
		b.Depth = &depth
		if b.Close == 0 {
			b.Close = depth.Last
		}
	}
	return b, nil
}

func setField(f market.Fields, k string, v market.Value) market.Fields {
	if f == nil {
		f = market.Fields{}
	}
	f[k] = v
	return f
}

var aliases = map[string]string{
	"date": "time", "timestamp": "time", "datetime": "time",
	"ticker": "symbol", "instrument": "symbol",
	"open": "o", "high": "h", "low": "l", "close": "c", "volume": "v",
	"putthrough": "p", "adjratio": "a", "shares": "s", "unadjusted": "u", "unadjopen": "f",
}

func canonical(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if a, ok := aliases[h]; ok {
		return a
	}
	return h
}

func isDepthColumn(col string) bool {
	return strings.HasPrefix(col, "bid") || strings.HasPrefix(col, "ask") || strings.HasPrefix(col, "last")
}

func numericTarget(b *market.Bar, d *market.Depth, col string) *float64 {
	switch col {
	case "o":
		return &b.Open
	case "h":
		return &b.High
	case "l":
		return &b.Low
	case "c":
		return &b.Close
	case "v":
		return &b.Volume
	case "p":
		return &b.PutThrough
	case "a":
		return &b.AdjRatio
	case "s":
		return &b.Shares
	case "u":
		return &b.Unadjusted
	case "f":
		return &b.UnadjOpen
	case "last":
		return &d.Last
	case "lastvol":
		return &d.LastVolume
	}
	for i := 0; i < 3; i++ {
		n := strconv.Itoa(i + 1)
		switch col {
		case "bid" + n:
			return &d.Bids[i].Price
		case "bidvol" + n:
			return &d.Bids[i].Volume
		case "ask" + n:
			return &d.Asks[i].Price
		case "askvol" + n:
			return &d.Asks[i].Volume
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
