// internal/metrics/metrics.go
// Package metrics exposes the Prometheus collectors the bot updates during
// operation:
//   - volumebot_sessions_total{state}  – terminal outcomes by state
//   - volumebot_sessions_active        – non-terminal sessions (gauge)
//   - volumebot_trades_total{side,result} – trade attempts by side and result
//   - volumebot_trade_volume_sol       – cumulative traded volume
//   - volumebot_fees_collected_sol     – cumulative fees routed to the platform
//
// Served by cmd/bot at /metrics in the Prometheus text exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumebot_sessions_total",
			Help: "Sessions reaching a terminal state",
		},
		[]string{"state"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "volumebot_sessions_active",
			Help: "Sessions currently non-terminal",
		},
	)

	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "volumebot_trades_total",
			Help: "Trade attempts by side and result",
		},
		[]string{"side", "result"},
	)

	TradeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "volumebot_trade_volume_sol",
			Help: "Cumulative traded volume in SOL",
		},
	)

	FeesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "volumebot_fees_collected_sol",
			Help: "Cumulative fees collected in SOL",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		SessionsActive,
		TradesTotal,
		TradeVolume,
		FeesCollected,
	)
}
