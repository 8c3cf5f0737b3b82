package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Torrent outcomes recorded by TorrentsProcessed.
const (
	ResultAdded   = "added"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

var (
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvsubscribe_scheduler_runs_total",
			Help: "Total number of subscription processing runs",
		},
		[]string{"trigger"},
	)

	SubscriptionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvsubscribe_subscription_errors_total",
			Help: "Total number of subscriptions whose processing failed",
		},
	)

	TorrentsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvsubscribe_torrents_found_total",
			Help: "Total number of torrents returned by tracker searches",
		},
	)

	TorrentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvsubscribe_torrents_processed_total",
			Help: "Total number of torrents handed to the downloader, by result",
		},
		[]string{"result"},
	)

	Subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvsubscribe_subscriptions",
			Help: "Number of active subscriptions",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvsubscribe_run_duration_seconds",
			Help:    "Time taken to process all subscriptions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvsubscribe_http_requests_total",
			Help: "Total number of HTTP requests served, by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
