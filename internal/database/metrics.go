package database

import (
	"errors"
	"time"

	"github.com/ieraasyl/FitnessShell/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// dbQueriesTotal counts queries by database, operation and status.
	//
	// Labels: database (postgres, redis), operation (SELECT, INSERT, GET, SET, DEL), status
	dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	// dbQueryDuration measures query execution time.
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)
)

func init() {
	prometheus.MustRegister(dbQueriesTotal)
	prometheus.MustRegister(dbQueryDuration)
}

func recordQuery(database, operation, status string, duration time.Duration) {
	dbQueriesTotal.WithLabelValues(database, operation, status).Inc()
	dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, cache.ErrCacheMiss):
		return "not_found"
	default:
		return "error"
	}
}
