// internal/utils/metrics/metrics.go
package metrics

import (
	"time"
)

// Event statuses reported to the counters.
const (
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusDuplicate = "duplicate"
)

// RecordEvent counts one processed event and its latency.
func RecordEvent(status, direction string, duration time.Duration) {
	eventCounter.WithLabelValues(status, direction).Inc()
	processingDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// SetPendingWrites updates the replay queue depth.
func SetPendingWrites(n int) {
	pendingWrites.Set(float64(n))
}

// SetOpenPositions updates the tracked key count.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// RecordPriceTick counts one applied price observation.
func RecordPriceTick() {
	priceTicks.Inc()
}
