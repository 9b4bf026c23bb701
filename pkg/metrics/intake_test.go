package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestIntakeMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIntakeMetrics(reg)

	m.DraftOperation("create", OutcomeSuccess)
	m.DraftOperation("create", OutcomeSuccess)
	m.DraftOperation("update", OutcomeFailure)
	m.Upload("gcs", OutcomeRejected)
	m.Finalization(OutcomeSuccess)
	m.ObserveRequest("/api/v1/draft", "POST", "200", 15*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "intake_draft_operations_total", "action", "create"); err != nil || got != 2 {
		t.Fatalf("expected 2 create operations, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "intake_attachment_uploads_total", "outcome", OutcomeRejected); err != nil || got != 1 {
		t.Fatalf("expected 1 rejected upload, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "intake_finalizations_total", "outcome", OutcomeSuccess); err != nil || got != 1 {
		t.Fatalf("expected 1 finalization, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "intake_http_request_duration_seconds", "route", "/api/v1/draft"); err != nil || got <= 0 {
		t.Fatalf("expected request latency sample, got %f err=%v", got, err)
	}
}

func TestIntakeMetricsNilSafe(t *testing.T) {
	var m *IntakeMetrics
	m.DraftOperation("create", OutcomeSuccess)
	m.Upload("gcs", OutcomeSuccess)
	m.Finalization(OutcomeFailure)
	m.ObserveRequest("/", "GET", "200", time.Millisecond)

	NewIntakeMetrics(nil).Finalization(OutcomeSuccess)
}
