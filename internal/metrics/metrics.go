// Package metrics
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_accepted_total", Help: "Ticks accepted into the buffer"},
		[]string{"symbol"},
	)
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_rejected_total", Help: "Ticks rejected for malformed price or quantity"},
		[]string{"symbol"},
	)
	TicksOutOfOrder = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_out_of_order_total", Help: "Ticks dropped for arriving out of order"},
		[]string{"symbol"},
	)
	TicksEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_evicted_total", Help: "Ticks evicted under capacity pressure"},
		[]string{"symbol"},
	)
	CandlesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_closed_total", Help: "Closed candles emitted by the aggregator"},
		[]string{"symbol", "timeframe"},
	)
	SignalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_transitions_total", Help: "Signal state machine transitions"},
		[]string{"pair", "to"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksAccepted, TicksRejected, TicksOutOfOrder, TicksEvicted,
		CandlesClosed, SignalTransitions,
	)
}

// Serve exposes /metrics on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
