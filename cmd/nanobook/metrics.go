package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics updated by the replay and sweep modes, served at
// /metrics when the endpoint is enabled.
var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanobook_orders_total",
			Help: "Orders submitted to the engine",
		},
		[]string{"kind", "side"},
	)

	mtxTrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobook_trades_total",
			Help: "Trades printed by the matching engine",
		},
	)

	mtxDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobook_decode_errors_total",
			Help: "ITCH records aborted with a decode error",
		},
	)

	mtxBestBid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nanobook_best_bid_cents",
			Help: "Best bid per symbol after replay",
		},
		[]string{"symbol"},
	)

	mtxBestAsk = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nanobook_best_ask_cents",
			Help: "Best ask per symbol after replay",
		},
		[]string{"symbol"},
	)

	mtxSweepBacktests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanobook_sweep_backtests_total",
			Help: "Sweep backtests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxOrders,
		mtxTrades,
		mtxDecodeErrors,
		mtxBestBid,
		mtxBestAsk,
		mtxSweepBacktests,
	)
}

// serveMetrics exposes the Prometheus registry. Runs in its own goroutine.
func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("listen", listen).Msg("serving metrics")
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
