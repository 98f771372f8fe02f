package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mysqlquery_queries_total",
			Help: "Total number of query invocations",
		},
		[]string{"strategy", "outcome"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mysqlquery_query_duration_seconds",
			Help:    "Duration of query invocations including pool acquisition",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
)
