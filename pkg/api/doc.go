// Package api serves the read-only email history API and the manual retry
// trigger over Gin, together with health and Prometheus endpoints.
package api
