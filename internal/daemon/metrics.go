package daemon

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_daemon_ticks_total",
			Help: "Daemon ticks by outcome",
		},
		[]string{"outcome"},
	)
	holdsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermoctl_daemon_holds_total",
			Help: "Holds sent by the daemon by branch and result",
		},
		[]string{"branch", "result"},
	)
	actualTemperature = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermoctl_daemon_actual_temperature",
			Help: "Last observed indoor temperature in degrees",
		},
	)
	desiredSetpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_daemon_desired_setpoint",
			Help: "Last observed thermostat setpoint in degrees",
		},
		[]string{"mode"},
	)
	targetSetpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermoctl_daemon_target_setpoint",
			Help: "Configured comfort band bound in degrees",
		},
		[]string{"mode"},
	)
	lastHold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermoctl_daemon_last_hold_timestamp_seconds",
			Help: "Unix time of the last accepted hold",
		},
	)
)

// MetricsCollectors returns the daemon collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		ticksTotal,
		holdsTotal,
		actualTemperature,
		desiredSetpoint,
		targetSetpoint,
		lastHold,
	}
}
