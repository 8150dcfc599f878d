package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunMetricsRecordsOutcome(t *testing.T) {
	m := NewRunMetrics()
	m.RecordRun("success")
	m.RecordOutput(12, 340)
	m.RecordPreviewFailure()
	m.ObserveStage("WRITING", 2*time.Second)

	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("runs_total{success} = %v", got)
	}
	if got := testutil.ToFloat64(m.rowsWritten); got != 12 {
		t.Fatalf("rows = %v", got)
	}
	if got := testutil.ToFloat64(m.bytesWritten); got != 340 {
		t.Fatalf("bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.previewFailures); got != 1 {
		t.Fatalf("preview failures = %v", got)
	}
	if count := testutil.CollectAndCount(m.stageDuration); count != 1 {
		t.Fatalf("stage duration series = %d", count)
	}
}

func TestNilRunMetricsIsNoop(t *testing.T) {
	var m *RunMetrics
	m.RecordRun("failed")
	m.RecordOutput(1, 1)
	m.RecordPreviewFailure()
	m.RecordCleanupFailure()
	m.ObserveStage("DONE", time.Second)
	if err := m.Push(context.Background(), "http://unused", "job", 0, nil); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
}

func TestPushSendsToPushgateway(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewRunMetrics()
	m.RecordRun("success")
	err := m.Push(context.Background(), srv.URL, "adhocsql_run", time.Second, map[string]string{"playground_id": "pg-1"})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/metrics/job/adhocsql_run/playground_id/pg-1" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.Contains(gotBody, "adhocsql_runs_total") {
		t.Fatal("expected runs counter in pushed body")
	}
}

func TestPushWithoutURLIsSkipped(t *testing.T) {
	if err := NewRunMetrics().Push(context.Background(), " ", "job", 0, nil); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
}
