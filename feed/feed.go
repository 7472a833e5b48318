// Package feed supplies time-ordered bars to the engine. Historical sources
// are replayable: opening the same Key twice yields the same sequence.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/robusta/market"
)

var (
	// ErrDataGap marks a tracked symbol missing from a step.
	ErrDataGap = errors.New("data gap")
	// ErrOutOfOrder marks a source yielding a bar older than its predecessor.
	ErrOutOfOrder = errors.New("bar out of order")
)

// Key identifies a stream.
type Key struct {
	Market    string
	DataType  string
	Assets    []string
	StartDate time.Time
	EndDate   time.Time // exclusive; zero means open ended
	BarFields string
}

func (k Key) String() string {
	assets := append([]string(nil), k.Assets...)
	sort.Strings(assets)
	return fmt.Sprintf("%s/%s[%s] %s..%s fields=%s",
		k.Market, k.DataType, strings.Join(assets, ","),
		k.StartDate.Format("2006-01-02"), k.EndDate.Format("2006-01-02"), k.BarFields)
}

// Stream yields bars in non-decreasing time order. Next returns ok=false at
// the end of the stream.
type Stream interface {
	Next(ctx context.Context) (market.Bar, bool, error)
	Close() error
}

// Source opens streams. Opening again restarts from the beginning.
type Source interface {
	Open(ctx context.Context, key Key) (Stream, error)
}

// SourceFunc adapts a function to Source. Live feeds use it to hand a
// single connection to the engine.
type SourceFunc func(ctx context.Context, key Key) (Stream, error)

func (f SourceFunc) Open(ctx context.Context, key Key) (Stream, error) { return f(ctx, key) }

// filter applies the Key's asset and date bounds.
type filter struct {
	assets map[string]bool
	from   time.Time
	to     time.Time
}

func newFilter(k Key) filter {
	f := filter{from: k.StartDate, to: k.EndDate}
	if len(k.Assets) > 0 {
		f.assets = make(map[string]bool, len(k.Assets))
		for _, a := range k.Assets {
			f.assets[a] = true
		}
	}
	return f
}

func (f filter) keep(b market.Bar) bool {
	if f.assets != nil && !f.assets[b.Symbol] {
		return false
	}
	return inRange(b.Time, f.from, f.to)
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// project keeps only the requested standard fields of b. Extra named fields
// and event fields are always kept.
func project(b market.Bar, fields []string) market.Bar {
	if len(fields) == 0 {
		return b
	}
	want := map[string]bool{}
	for _, f := range fields {
		want[f] = true
	}
	out := market.Bar{Time: b.Time, Symbol: b.Symbol, Depth: b.Depth}
	if want["o"] {
		out.Open = b.Open
	}
	if want["h"] {
		out.High = b.High
	}
	if want["l"] {
		out.Low = b.Low
	}
	// The close is the mark and is always kept.
	out.Close = b.Close
	if want["v"] {
		out.Volume = b.Volume
	}
	if want["p"] {
		out.PutThrough = b.PutThrough
	}
	if want["a"] {
		out.AdjRatio = b.AdjRatio
	}
	if want["s"] {
		out.Shares = b.Shares
	}
	if want["u"] {
		out.Unadjusted = b.Unadjusted
	}
	if want["f"] {
		out.UnadjOpen = b.UnadjOpen
	}
	if len(b.Fields) > 0 {
		out.Fields = make(market.Fields, len(b.Fields))
		for k, v := range b.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
