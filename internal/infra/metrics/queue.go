package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queueDepth, queueStuckRecovered) }

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_queue_depth",
			Help: "Length of each durable queue structure.",
		},
		[]string{"list"}, // 'pending', 'processing', 'retry'
	)

	queueStuckRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_queue_stuck_recovered_total",
			Help: "Envelopes failed by the stuck-job sweep.",
		},
	)
)

func SetQueueDepth(pending, processing, retry int64) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("processing").Set(float64(processing))
	queueDepth.WithLabelValues("retry").Set(float64(retry))
}

func AddStuckRecovered(n int) {
	queueStuckRecovered.Add(float64(n))
}
