package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_oauth_refresh_success_total",
			Help: "Successful token refreshes",
		},
		[]string{"provider"},
	)
	refreshFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_oauth_refresh_failure_total",
			Help: "Failed token refreshes",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_oauth_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	pinRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_oauth_pin_requests_total",
			Help: "Device PINs requested from the vendor",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the authorization module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		pinRequests,
	}
}
