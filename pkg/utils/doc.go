// Package utils provides shared helpers for the email dispatcher: logger
// setup, comma separated list parsing and retry with exponential backoff for
// startup connections.
package utils
