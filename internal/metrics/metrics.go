// Package metrics holds the prometheus collectors shared by the pollers, the
// query cache and the live alert stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts completed fetches per resource and outcome ("ok", "error").
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upsmon",
		Name:      "fetch_total",
		Help:      "Completed backend fetches by resource and outcome.",
	}, []string{"resource", "outcome"})

	// StaleDiscarded counts completions dropped because a newer sequence had
	// already been applied.
	StaleDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upsmon",
		Name:      "stale_completions_discarded_total",
		Help:      "Fetch results discarded because a newer result was already applied.",
	}, []string{"resource"})

	CoalescedFetches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upsmon",
		Name:      "coalesced_fetches_total",
		Help:      "Reads or ticks that joined an in-flight fetch for the same key.",
	})

	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "upsmon",
		Name:      "alert_stream_state",
		Help:      "Live alert stream state (0 disconnected, 1 connecting, 2 connected).",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "upsmon",
		Name:      "alert_stream_reconnects_total",
		Help:      "Reconnect attempts scheduled after the alert stream closed.",
	})

	LiveAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "upsmon",
		Name:      "live_alerts_total",
		Help:      "Pushed alerts received by type.",
	}, []string{"type"})

	FleetDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "upsmon",
		Name:      "fleet_devices",
		Help:      "Devices in the latest snapshot by status.",
	}, []string{"status"})
)
