package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal, jobRetriesTotal, jobsInFlight, jobsByStatus) }

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_processed_total",
			Help: "Total number of analysis jobs processed, labeled by outcome and scheduler.",
		},
		[]string{"status", "scheduler"}, // 'completed', 'failed', 'cancelled'
	)

	jobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_job_retries_total",
			Help: "Retries scheduled after a failed attempt.",
		},
		[]string{"scheduler"},
	)

	jobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_jobs_in_flight",
			Help: "Jobs currently being processed by this worker.",
		},
		[]string{"scheduler"},
	)

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_jobs_by_status",
			Help: "Jobs in the store per status, sampled periodically.",
		},
		[]string{"status"},
	)
)

func IncJobProcessed(status, scheduler string) {
	jobsProcessedTotal.WithLabelValues(norm(status), norm(scheduler)).Inc()
}

func IncJobRetry(scheduler string) {
	jobRetriesTotal.WithLabelValues(norm(scheduler)).Inc()
}

func SetJobsInFlight(scheduler string, n int) {
	jobsInFlight.WithLabelValues(norm(scheduler)).Set(float64(n))
}

func SetJobsByStatus(counts map[string]int) {
	for status, n := range counts {
		jobsByStatus.WithLabelValues(norm(status)).Set(float64(n))
	}
}
