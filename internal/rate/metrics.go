package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_rate_limit_remaining",
			Help: "Request slots left in the window",
		},
		[]string{"provider", "window"},
	)
	retryAfterGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_rate_limit_retry_after_seconds",
			Help: "Most recent cooldown requested by the vendor",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_rate_limit_last_status_code",
			Help: "Last HTTP status code seen by the rate guard",
		},
		[]string{"provider"},
	)
	blockedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_rate_limit_blocked_total",
			Help: "Requests refused locally before reaching the vendor",
		},
		[]string{"provider", "reason"},
	)
)

// MetricsCollectors exposes the rate guard collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		retryAfterGauge,
		lastStatusGauge,
		blockedCounter,
	}
}
