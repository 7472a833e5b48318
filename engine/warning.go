package engine

import (
	"fmt"
	"time"

	"github.com/rustyeddy/robusta/internal/metrics"
	"github.com/rustyeddy/robusta/rebalance"
)

// Warning kinds. Warnings never stop the run.
const (
	WarnDataGap           = "data-gap"
	WarnOrderRejected     = "order-rejected"
	WarnBrokerUnavailable = "broker-unavailable"
	WarnStrategy          = "strategy"
	WarnLeverage          = "leverage"
	WarnShortRestricted   = "short-restricted"
	WarnCloseLocked       = "close-locked"
	WarnRecorder          = "recorder"
	WarnLookback          = "lookback"
	WarnLateNotice        = "late-notice"
)

// Warning is one recoverable error of a run.
type Warning struct {
	Bar     int
	Time    time.Time
	Kind    string
	Symbol  string
	Message string
}

func (w Warning) String() string {
	if w.Symbol == "" {
		return fmt.Sprintf("bar %d %s: %s", w.Bar, w.Kind, w.Message)
	}
	return fmt.Sprintf("bar %d %s %s: %s", w.Bar, w.Kind, w.Symbol, w.Message)
}

func (e *Engine) warn(kind, symbol, format string, args ...any) {
	w := Warning{
		Bar:     e.bar,
		Time:    e.now,
		Kind:    kind,
		Symbol:  symbol,
		Message: fmt.Sprintf(format, args...),
	}
	e.warnings = append(e.warnings, w)
	metrics.WarningsTotal.WithLabelValues(kind).Inc()
	e.log.WithField("bar", w.Bar).WithField("kind", kind).WithField("symbol", symbol).Warn(w.Message)
}

// planWarningKind maps planner warnings onto run warning kinds.
func planWarningKind(kind string) string {
	switch kind {
	case rebalance.WarnShortRestricted:
		return WarnShortRestricted
	case rebalance.WarnCloseLocked:
		return WarnCloseLocked
	case rebalance.WarnLeverage:
		return WarnLeverage
	case rebalance.WarnNoPrice:
		return WarnDataGap
	}
	return kind
}
