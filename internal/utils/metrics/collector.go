// internal/utils/metrics/collector.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletledger_events_total",
			Help: "Total number of transaction events by outcome",
		},
		[]string{"status", "direction"},
	)
	processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletledger_event_processing_seconds",
			Help:    "Duration of event processing including persistence",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"direction"},
	)
	pendingWrites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletledger_pending_writes",
			Help: "Durable writes waiting for replay",
		},
	)
	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletledger_open_positions",
			Help: "Position keys currently tracked",
		},
	)
	priceTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "walletledger_price_ticks_total",
			Help: "Price observations applied to positions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventCounter,
		processingDuration,
		pendingWrites,
		openPositions,
		priceTicks,
	)
}

// Reset zeroes the counters, useful in tests.
func Reset() {
	eventCounter.Reset()
	processingDuration.Reset()
	pendingWrites.Set(0)
	openPositions.Set(0)
}
