// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kolpulse_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_fetch_attempts_total", Help: "Metrics provider attempts by outcome"},
		[]string{"provider", "outcome"},
	)
	FetchAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kolpulse_fetch_attempt_duration_seconds",
			Help:    "Time spent on a single provider attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	FetchOpenCircuits = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "kolpulse_fetch_open_circuits", Help: "Provider circuits currently open"},
	)
	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_refresh_total", Help: "Post metric refreshes by outcome"},
		[]string{"outcome"},
	)

	BroadcastJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_broadcast_jobs_total", Help: "Broadcast jobs accepted"},
		[]string{"target", "filter"},
	)
	BroadcastDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_broadcast_deliveries_total", Help: "Broadcast deliveries by channel and outcome"},
		[]string{"channel", "outcome"},
	)
	BroadcastQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "kolpulse_broadcast_queue_depth", Help: "Broadcast jobs waiting for a worker"},
	)
	BroadcastJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kolpulse_broadcast_job_duration_seconds",
			Help:    "Time from job start to completion",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	HousekeepingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_housekeeping_runs_total", Help: "Housekeeping job runs"},
		[]string{"job", "outcome"},
	)
	LinksRegisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kolpulse_links_registered_total", Help: "Delivery links recorded from chat updates"},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		FetchAttemptsTotal, FetchAttemptDuration, FetchOpenCircuits, RefreshTotal,
		BroadcastJobsTotal, BroadcastDeliveriesTotal, BroadcastQueueDepth, BroadcastJobDuration,
		HousekeepingRunsTotal, LinksRegisteredTotal,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
