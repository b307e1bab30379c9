// Package observability exposes Prometheus metrics for the sync
// pipeline and the HTTP API.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridedash",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Sync runs by outcome (success or error).",
	}, []string{"outcome"})
	activitiesUpsertedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridedash",
		Subsystem: "sync",
		Name:      "activities_upserted_total",
		Help:      "Activities written to the database, by source.",
	}, []string{"source"})
	lastActivityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stridedash",
		Subsystem: "sync",
		Name:      "last_activity_start_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity seen by a sync.",
	})
	httpRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stridedash",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "status"})
	httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stridedash",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		syncRunsCounter,
		activitiesUpsertedCounter,
		lastActivityGauge,
		httpRequestsCounter,
		httpDurationHistogram,
	)
}

// RecordSyncRun counts one finished sync run.
func RecordSyncRun(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	syncRunsCounter.WithLabelValues(outcome).Inc()
}

// RecordActivitiesUpserted counts activities written for a source.
func RecordActivitiesUpserted(source string, n int) {
	if n <= 0 {
		return
	}
	activitiesUpsertedCounter.WithLabelValues(source).Add(float64(n))
}

// RecordLastActivity updates the newest-activity watermark gauge.
func RecordLastActivity(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastActivityGauge.Set(float64(ts.Unix()))
}

// RecordHTTPRequest counts one served API request.
func RecordHTTPRequest(route, status string, elapsed time.Duration) {
	httpRequestsCounter.WithLabelValues(route, status).Inc()
	httpDurationHistogram.WithLabelValues(route).Observe(elapsed.Seconds())
}
