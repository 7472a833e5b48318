package feed

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// Record copies bars from s to w as CSV readable by CSVStream. Named fields
// listed in extra get their own columns. It stops at the end of the stream,
// when ctx is done, or after limit bars when limit > 0.
func Record(ctx context.Context, s Stream, w io.Writer, extra []string, limit int) (int, error) {
	cw := csv.NewWriter(w)
	header := append([]string{"time", "symbol", "o", "h", "l", "c", "v"}, extra...)
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	written := 0
	for {
		b, ok, err := s.Next(ctx)
		if err != nil {
			cw.Flush()
			return written, err
		}
		if !ok {
			break
		}
		row := []string{
			b.Time.UTC().Format(time.RFC3339Nano),
			b.Symbol,
			ftoa(b.Open), ftoa(b.High), ftoa(b.Low), ftoa(b.Close), ftoa(b.Volume),
		}
		for _, name := range extra {
			cell := ""
			if v, ok := b.Fields.Get(name); ok {
				cell = v.String()
			}
			row = append(row, cell)
		}
		if err := cw.Write(row); err != nil {
			return written, err
		}
		written++
		if limit > 0 && written >= limit {
			break
		}
	}
	cw.Flush()
	return written, cw.Error()
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
