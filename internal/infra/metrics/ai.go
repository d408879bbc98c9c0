package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		aiErrors,
		aiFallbackResults,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000, 40000, 80000, 120000},
		},
		[]string{"provider", "model", "success"},
	)

	aiErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_call_errors_total",
			Help: "Failed AI calls by provider and error kind.",
		},
		[]string{"provider", "kind"}, // 'auth', 'rate_limit', 'timeout', 'unavailable', 'other'
	)

	aiFallbackResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_fallback_results_total",
			Help: "Replies that could not be repaired and were replaced by the fallback result.",
		},
		[]string{"provider"},
	)
)

func ObserveAICall(provider, model string, tokensIn, tokensOut int, latency time.Duration, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latency.Milliseconds()))
}

func IncAIError(provider, kind string) {
	aiErrors.WithLabelValues(norm(provider), norm(kind)).Inc()
}

func IncFallbackResult(provider string) {
	aiFallbackResults.WithLabelValues(norm(provider)).Inc()
}
