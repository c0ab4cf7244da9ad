// Package ratelimit provides per-client token-bucket rate limiting for the
// history API, with periodic cleanup of idle clients.
package ratelimit
