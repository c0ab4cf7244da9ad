package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMailMetricsExistAndIncrement(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	host := "test-smtp-host"

	MailSendSuccess.WithLabelValues(host).Inc()
	if v := testutil.ToFloat64(MailSendSuccess.WithLabelValues(host)); v < 1 {
		t.Fatalf("expected MailSendSuccess >= 1, got %v", v)
	}

	MailSendFailure.WithLabelValues(host, "AuthError").Add(2)
	if v := testutil.ToFloat64(MailSendFailure.WithLabelValues(host, "AuthError")); v < 2 {
		t.Fatalf("expected MailSendFailure >= 2, got %v", v)
	}
}

func TestHistoryStoreErrorsLabelCardinality(t *testing.T) {
	HistoryStoreErrors.Reset()
	defer HistoryStoreErrors.Reset()
	labels := []string{"mongo", "find_by_status"}
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("HistoryStoreErrors panicked with labels %v: %v", labels, r)
		}
	}()

	HistoryStoreErrors.WithLabelValues(labels...).Inc()
	if v := testutil.ToFloat64(HistoryStoreErrors.WithLabelValues(labels...)); v != 1 {
		t.Fatalf("expected metric value 1 after increment, got %v", v)
	}
}

func TestSweepDurationObserves(t *testing.T) {
	before := testutil.CollectAndCount(SweepDuration)
	SweepDuration.Observe(0.2)
	if after := testutil.CollectAndCount(SweepDuration); after != before {
		t.Fatalf("histogram should expose one series, got %d then %d", before, after)
	}
}

func TestMetricsHandlerServesRegisteredCollectors(t *testing.T) {
	DispatchOutcomes.WithLabelValues("sent").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "email_dispatcher_dispatch_outcomes_total") {
		t.Fatal("dispatch outcome counter missing from /metrics output")
	}
}
