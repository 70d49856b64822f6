package services

import "github.com/prometheus/client_golang/prometheus"

var (
	consistencyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_consistency_errors_total",
		Help: "Index entries that did not match the relational store.",
	})

	ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestions_total",
			Help: "Completed ingestion runs by outcome.",
		},
		[]string{"outcome"},
	)

	ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestion_duration_seconds",
		Help:    "Wall time of ingestion runs in seconds.",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ingestChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_chunks_total",
		Help: "Chunks committed by successful ingestion runs.",
	})
)

func init() {
	prometheus.MustRegister(consistencyErrors, ingestions, ingestDuration, ingestChunks)
}
