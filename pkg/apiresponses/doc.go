// Package apiresponses holds the JSON error envelope and response helpers of
// the history API.
package apiresponses
