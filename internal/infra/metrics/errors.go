package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(errorEventsTotal) }

var errorEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "error_events_total",
		Help: "Error events reported to the error log, by category and severity.",
	},
	[]string{"category", "severity"},
)

func IncErrorEvent(category, severity string) {
	errorEventsTotal.WithLabelValues(norm(category), norm(severity)).Inc()
}
