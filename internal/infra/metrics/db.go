package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dbPoolConns, dbPoolAcquireWait) }

// PoolSnapshot is the subset of pgxpool.Stat the sampler exports.
type PoolSnapshot struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires            int64
	AcquireWait              time.Duration
}

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_db_pool_connections",
			Help: "Job store connection pool by state.",
		},
		[]string{"state"}, // 'total', 'idle', 'acquired', 'max'
	)

	dbPoolAcquireWait = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_db_pool_acquire_wait",
			Help: "Cumulative acquires that had to wait for a connection, and the total wait in seconds.",
		},
		[]string{"measure"}, // 'count', 'seconds'
	)
)

func SetDBPoolStats(s PoolSnapshot) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbPoolAcquireWait.WithLabelValues("count").Set(float64(s.EmptyAcquires))
	dbPoolAcquireWait.WithLabelValues("seconds").Set(s.AcquireWait.Seconds())
}
