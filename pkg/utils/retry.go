// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig defines the configuration for retry operations
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries)
	MaxRetries int
	// InitialBackoff is the initial backoff duration before the first retry
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration between retries
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff is multiplied after each retry
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the retry configuration used when connecting to
// brokers and stores at startup.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryWithBackoff calls op until it succeeds, the retries are exhausted or
// ctx is done. The last error from op is returned.
func RetryWithBackoff(ctx context.Context, config RetryConfig, log *zap.SugaredLogger, what string, op func(context.Context) error) error {
	backoff := config.InitialBackoff
	var err error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= config.MaxRetries {
			break
		}

		log.Warnw("Operation failed, retrying",
			"operation", what,
			"attempt", attempt+1,
			"maxRetries", config.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		// Wait before retrying
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Increase backoff for next retry
		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
	return err
}
