// Package config loads the dispatcher's YAML configuration: HTTP server, mail
// transport, inbound queue, history store and retry sweep settings.
package config
