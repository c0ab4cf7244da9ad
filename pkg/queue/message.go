// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package queue binds the dispatcher to its inbound message brokers. It
// provides Kafka and RabbitMQ consumers that hand decoded EmailMessages to a
// Handler, and matching publishers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EmailMessage is the inbound send request.
type EmailMessage struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Handler processes one decoded message. A non-nil error asks the consumer to
// deliver the message again.
type Handler func(ctx context.Context, msg EmailMessage) error

// Consumer reads messages from a broker until ctx is cancelled.
type Consumer interface {
	Run(ctx context.Context) error
	Close() error
}

// Publisher writes EmailMessages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg EmailMessage) error
	Close() error
}

// ErrMalformedMessage marks payloads that can never be handled.
var ErrMalformedMessage = errors.New("malformed email message")

// Decode parses a JSON payload. Payloads that are not valid JSON or carry no
// recipient are malformed.
func Decode(payload []byte) (EmailMessage, error) {
	var msg EmailMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return EmailMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return EmailMessage{}, fmt.Errorf("%w: missing recipient", ErrMalformedMessage)
	}
	return msg, nil
}

func encode(msg EmailMessage) ([]byte, error) {
	if strings.TrimSpace(msg.Recipient) == "" {
		return nil, fmt.Errorf("%w: missing recipient", ErrMalformedMessage)
	}
	return json.Marshal(msg)
}
