// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the delivery state of an email history record.
type Status string

const (
	// StatusPending exists only until the first send attempt completes.
	StatusPending Status = "PENDING"
	// StatusSent is terminal; sent records are never revisited.
	StatusSent Status = "SENT"
	// StatusError marks a failed attempt that the retry sweep will pick up again.
	StatusError Status = "ERROR"
)

// TimestampLayout is the millisecond-precision, lexically sortable layout used
// when a backend stores timestamps as strings.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var errInvalidStatus = errors.New("invalid status")

// ParseStatus converts a raw status value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusSent, StatusError:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w %q", errInvalidStatus, s)
}

func (s Status) String() string {
	return string(s)
}

// EmailHistory is the audit entry for the send attempts of one email.
type EmailHistory struct {
	ID              string     `json:"id"`
	Recipient       string     `json:"recipient"`
	Subject         string     `json:"subject"`
	Content         string     `json:"content"`
	Status          Status     `json:"status"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastAttemptTime *time.Time `json:"lastAttemptTime,omitempty"`
}

// Validate checks the status/error message invariant of the record.
func (h EmailHistory) Validate() error {
	if h.ID == "" {
		return errors.New("history record has no id")
	}
	if h.Attempts < 0 {
		return fmt.Errorf("history record %s has negative attempts %d", h.ID, h.Attempts)
	}
	switch h.Status {
	case StatusSent:
		if h.ErrorMessage != nil {
			return fmt.Errorf("history record %s is SENT but carries an error message", h.ID)
		}
	case StatusError:
		if h.ErrorMessage == nil {
			return fmt.Errorf("history record %s is ERROR without an error message", h.ID)
		}
	case StatusPending:
	default:
		return fmt.Errorf("history record %s: %w %q", h.ID, errInvalidStatus, h.Status)
	}
	return nil
}

// Clone returns a deep copy so callers never share the pointer fields.
func (h EmailHistory) Clone() EmailHistory {
	out := h
	if h.ErrorMessage != nil {
		msg := *h.ErrorMessage
		out.ErrorMessage = &msg
	}
	if h.LastAttemptTime != nil {
		ts := *h.LastAttemptTime
		out.LastAttemptTime = &ts
	}
	return out
}

// Store persists history records. Every Save rewrites the full record under its id.
type Store interface {
	Save(ctx context.Context, rec EmailHistory) error
	FindByStatus(ctx context.Context, status Status) ([]EmailHistory, error)
	FindByID(ctx context.Context, id string) (*EmailHistory, bool, error)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
