package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host", "kind"})

	// Dispatch metrics. Outcome is "sent", "error" or "store_error".
	DispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_dispatch_outcomes_total",
		Help: "Outcome of first delivery attempts for inbound messages",
	}, []string{"outcome"})

	// Retry sweep metrics
	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_sweep_runs_total",
		Help: "Total number of retry sweeps by result (completed, persist_failed, query_failed, skipped)",
	}, []string{"result"})
	SweepRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_sweep_records_total",
		Help: "Records processed by retry sweeps, by resulting status",
	}, []string{"status"})
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "email_dispatcher_sweep_duration_seconds",
		Help:    "Duration of completed retry sweeps",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	// Queue metrics. Result is "handled", "failed" or "malformed".
	QueueMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_queue_messages_total",
		Help: "Inbound queue messages by backend and handling result",
	}, []string{"backend", "result"})

	// Store metrics
	HistoryStoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_history_store_errors_total",
		Help: "Errors returned by the history store",
	}, []string{"backend", "operation"})

	// API metrics
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_dispatcher_api_requests_total",
		Help: "Requests served by the history API",
	}, []string{"endpoint", "code"})
)

func init() {
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(DispatchOutcomes)
	prometheus.MustRegister(SweepRuns)
	prometheus.MustRegister(SweepRecords)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(QueueMessages)
	prometheus.MustRegister(HistoryStoreErrors)
	prometheus.MustRegister(APIRequests)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
