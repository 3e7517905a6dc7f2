package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.SessionFinished("completed", 3)
	m.SessionFinished("exceeded", 25)
	m.CapabilityCall("read_file", "ok", 10*time.Millisecond)
	m.CapabilityCall("read_file", "NOT_FOUND", time.Millisecond)
	m.ArtifactExtraction("repaired")
	m.ModelTokens(120, 30)
	m.ModelTokens(0, 5)

	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("sessions completed=%v, want=1", got)
	}
	if got := testutil.ToFloat64(m.CapabilityCalls.WithLabelValues("read_file", "NOT_FOUND")); got != 1 {
		t.Fatalf("read_file NOT_FOUND=%v, want=1", got)
	}
	if got := testutil.ToFloat64(m.ArtifactExtractions.WithLabelValues("repaired")); got != 1 {
		t.Fatalf("repaired=%v, want=1", got)
	}
	if got := testutil.ToFloat64(m.ModelTokensTotal.WithLabelValues("output")); got != 35 {
		t.Fatalf("output tokens=%v, want=35", got)
	}
}

func TestNilRecorder(t *testing.T) {
	t.Parallel()

	var m *Recorder
	m.SessionFinished("failed", 1)
	m.CapabilityCall("x", "ok", 0)
	m.ArtifactExtraction("clean")
	m.ModelTokens(1, 1)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ArtifactExtraction("clean")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `reposcout_artifact_extractions_total{result="clean"} 1`) {
		t.Fatalf("metrics body missing extraction counter:\n%s", body)
	}
}
