// Package mail provides the mail transports used for delivery: an SMTP sender
// built on gomail and an Amazon SES sender. All send failures are reported as
// *TransportError values whose kind is derived by Classify.
package mail
