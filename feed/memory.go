package feed

import (
	"context"
	"sort"

	"github.com/rustyeddy/robusta/market"
)

// MemorySource serves bars held in memory, sorted by time then symbol.
type MemorySource struct {
	Bars []market.Bar
}

func NewMemorySource(bars ...market.Bar) *MemorySource {
	sorted := append([]market.Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	return &MemorySource{Bars: sorted}
}

func (s *MemorySource) Open(_ context.Context, key Key) (Stream, error) {
	return &memoryStream{bars: s.Bars, filter: newFilter(key), fields: market.ParseBarFields(key.BarFields)}, nil
}

type memoryStream struct {
	bars   []market.Bar
	pos    int
	filter filter
	fields []string
}

func (m *memoryStream) Next(ctx context.Context) (market.Bar, bool, error) {
	for m.pos < len(m.bars) {
		if err := ctx.Err(); err != nil {
			return market.Bar{}, false, err
		}
		b := m.bars[m.pos]
		m.pos++
		if m.filter.keep(b) {
			return project(b, m.fields), true, nil
		}
	}
	return market.Bar{}, false, nil
}

func (m *memoryStream) Close() error { return nil }
