package embedding

import "github.com/prometheus/client_golang/prometheus"

var (
	// embedRequests counts provider calls by model and outcome ("ok" or a
	// Kind string).
	embedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Embedding provider calls by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	embedRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_retries_total",
			Help: "Embedding retries by failure reason.",
		},
		[]string{"reason"},
	)

	embedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_latency_seconds",
			Help:    "Latency of embedding provider calls in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(embedRequests, embedRetries, embedLatency)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := KindOf(err); ok {
		return k.String()
	}
	return "error"
}
