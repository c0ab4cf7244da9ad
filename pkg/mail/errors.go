// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

// Kind names the category of a transport failure. It is the prefix of the
// error message recorded on a failed delivery.
type Kind string

const (
	KindAuth       Kind = "AuthError"
	KindConnection Kind = "ConnectionError"
	KindTimeout    Kind = "TimeoutError"
	KindRejected   Kind = "RejectedError"
	KindSend       Kind = "SendError"
	// KindPanic marks a sender that panicked instead of returning an error.
	KindPanic Kind = "PanicError"
)

// TransportError is the failure value of a send attempt.
type TransportError struct {
	Kind    Kind
	Message string
	cause   error
}

func NewTransportError(kind Kind, message string) *TransportError {
	return &TransportError{Kind: kind, Message: message}
}

// Error renders "<Kind>: <Message>".
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.cause
}

// AWS error codes that mean the message itself will not be accepted.
var sesRejectedCodes = map[string]struct{}{
	"MessageRejected":                    {},
	"MailFromDomainNotVerifiedException": {},
	"AccountSuspendedException":          {},
	"SendingPausedException":             {},
	"BadRequestException":                {},
}

var awsAuthCodes = map[string]struct{}{
	"UnrecognizedClientException": {},
	"InvalidClientTokenId":        {},
	"AccessDeniedException":       {},
	"SignatureDoesNotMatch":       {},
	"ExpiredTokenException":       {},
}

// Classify maps an arbitrary send error to a TransportError. Errors that are
// already TransportErrors are returned unchanged; anything unrecognised
// becomes a SendError.
func Classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: classifyKind(err), Message: err.Error(), cause: err}
}

func classifyKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return kindForReplyCode(tpErr.Code)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := awsAuthCodes[apiErr.ErrorCode()]; ok {
			return KindAuth
		}
		if _, ok := sesRejectedCodes[apiErr.ErrorCode()]; ok {
			return KindRejected
		}
		return KindSend
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.Canceled) {
		return KindConnection
	}

	// gomail flattens per-message failures with %v, so the SMTP reply
	// code only survives in the text.
	if m := replyCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return kindForReplyCode(code)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unencrypted connection"),
		strings.Contains(msg, "doesn't support auth"),
		strings.Contains(msg, "authentication"):
		return KindAuth
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"):
		return KindConnection
	}
	return KindSend
}

var replyCodePattern = regexp.MustCompile(`(?:^|: )([45]\d\d) `)

// kindForReplyCode classifies SMTP reply codes.
func kindForReplyCode(code int) Kind {
	switch {
	case code == 530 || code == 534 || code == 535 || code == 454:
		return KindAuth
	case code == 421:
		return KindConnection
	case code >= 550 && code <= 554:
		return KindRejected
	default:
		return KindSend
	}
}
