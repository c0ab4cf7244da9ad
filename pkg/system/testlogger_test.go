package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/history"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()
	require.NotNil(t, logger)
	logger.Infow("test message with fields", "key", "value")
}

func TestNewObservedLoggerRecordsFields(t *testing.T) {
	log, logs := NewObservedLogger(zap.InfoLevel)
	msg := "TimeoutError: i/o timeout"
	rec := history.EmailHistory{ID: "id-1", Recipient: "a@x.org", Status: history.StatusError, ErrorMessage: &msg, Attempts: 2, CreatedAt: time.Now()}

	log.Debug("dropped")
	log.Warnw("Retry failed", RecordFields(rec)...)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "id-1", fields["id"])
	assert.Equal(t, int64(2), fields["attempts"])
	assert.Equal(t, msg, fields["errorMessage"])
	assert.NotContains(t, fields, "content")
}
