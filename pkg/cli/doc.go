// Package cli builds the email-dispatcher command tree. Flags fall back to
// environment variables, and a .env file is loaded before either is read.
package cli
