// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/history"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDHeader carries the request id back to the caller.
const RequestIDHeader = "X-Request-ID"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestLogger stores a logger annotated with the request id, method and
// path in the gin context. An incoming X-Request-ID is reused, otherwise a
// new one is generated.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set(ReqLoggerKey, base.With(
			"requestID", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
		))
		c.Next()
	}
}

// RecordFields returns key/value pairs describing a history record, suitable
// for SugaredLogger.With or Infow/Errorw calls. The message body is never
// included; errorMessage only when set.
func RecordFields(rec history.EmailHistory) []interface{} {
	fields := []interface{}{
		"id", rec.ID,
		"recipient", rec.Recipient,
		"status", string(rec.Status),
		"attempts", rec.Attempts,
	}
	if rec.ErrorMessage != nil {
		fields = append(fields, "errorMessage", *rec.ErrorMessage)
	}
	return fields
}
