// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package delivery holds the delivery state machine: a send attempt produces a
// Result, and pure transition functions turn a history record plus a Result
// into the next record. Persisting the record is left to the caller.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/telekom/email-dispatcher/pkg/history"
	"github.com/telekom/email-dispatcher/pkg/mail"
)

// Result is the outcome of one send attempt. A nil Err means success.
type Result struct {
	Err *mail.TransportError
}

func Success() Result {
	return Result{}
}

func Failure(err *mail.TransportError) Result {
	return Result{Err: err}
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Attempt sends rec through sender once. Returned errors and panics are both
// converted into a failed Result; Attempt itself never fails.
func Attempt(ctx context.Context, sender mail.Sender, rec history.EmailHistory) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(mail.NewTransportError(mail.KindPanic, fmt.Sprint(r)))
		}
	}()
	if err := sender.Send(ctx, rec.Recipient, rec.Subject, rec.Content); err != nil {
		return Failure(mail.Classify(err))
	}
	return Success()
}

// NewPending builds the initial record for an inbound request.
func NewPending(id, recipient, subject, content string, at time.Time) history.EmailHistory {
	return history.EmailHistory{
		ID:        id,
		Recipient: recipient,
		Subject:   subject,
		Content:   content,
		Status:    history.StatusPending,
		Attempts:  0,
		CreatedAt: at,
	}
}

// Transition applies res to rec. It sets status, errorMessage and
// lastAttemptTime and leaves attempts alone.
func Transition(rec history.EmailHistory, res Result, at time.Time) history.EmailHistory {
	next := rec.Clone()
	ts := at
	next.LastAttemptTime = &ts
	if res.OK() {
		next.Status = history.StatusSent
		next.ErrorMessage = nil
		return next
	}
	msg := res.Err.Error()
	next.Status = history.StatusError
	next.ErrorMessage = &msg
	return next
}

// FirstAttempt is the dispatch convention: attempts becomes exactly 1.
func FirstAttempt(rec history.EmailHistory, res Result, at time.Time) history.EmailHistory {
	next := Transition(rec, res, at)
	next.Attempts = 1
	return next
}

// RetryAttempt is the sweep convention: attempts grows by one whatever the
// outcome.
func RetryAttempt(rec history.EmailHistory, res Result, at time.Time) history.EmailHistory {
	next := Transition(rec, res, at)
	next.Attempts = rec.Attempts + 1
	return next
}
