// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "robusta_bars_total", Help: "Bar steps processed"},
		[]string{"mode"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "robusta_orders_total", Help: "Orders sent to the broker"},
		[]string{"symbol", "side"},
	)
	FilledVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "robusta_filled_volume_total", Help: "Volume filled by the broker"},
		[]string{"symbol", "side"},
	)
	WarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "robusta_warnings_total", Help: "Recoverable run warnings"},
		[]string{"kind"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "robusta_equity", Help: "Marked equity after the last step"},
	)
	StepSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robusta_step_seconds",
			Help:    "Wall time of one bar step",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, OrdersTotal, FilledVolume, WarningsTotal, Equity, StepSeconds)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
