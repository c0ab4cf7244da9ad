// Package metrics defines Prometheus metrics for the email dispatcher,
// covering mail sends, dispatch outcomes, retry sweeps, queue consumption,
// history store errors and API requests.
package metrics
