package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/sessionstore"
	"github.com/floegence/reposcout/internal/logging"
	"github.com/floegence/reposcout/internal/metrics"
	"github.com/floegence/reposcout/internal/repo"
)

// answerProvider answers every turn with a final plan.
type answerProvider struct{}

func (answerProvider) StreamTurn(_ context.Context, _ ai.TurnRequest, _ func(ai.StreamEvent)) (ai.TurnResult, error) {
	return ai.TurnResult{
		FinishReason: ai.FinishStop,
		Text:         "```json\n{\"summary\": \"Add a greeting command\", \"files_to_create\": [{\"path\": \"cmd/greet.go\"}]}\n```",
		Usage:        ai.TurnUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func newTestHandler(t *testing.T) *httpHandler {
	t.Helper()
	store, err := sessionstore.Open(filepath.Join(t.TempDir(), "sessions.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rec := metrics.New(prometheus.NewRegistry())
	o, err := ai.New(ai.Options{
		Provider: answerProvider{},
		Gateway:  repo.NewMemory(map[string]string{"README.md": "hello\n"}),
		Sessions: store,
		Metrics:  rec,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("ai.New: %v", err)
	}
	return &httpHandler{orch: o, sessions: store, metrics: rec, log: logging.Discard()}
}

func TestServe_AnalyzeStreamsSSEAndRecordsSession(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	srv := httptest.NewServer(h.routes())
	t.Cleanup(srv.Close)

	body := `{"item": {"title": "Add a greeting", "repository": {"owner": "acme", "repo": "widgets"}}}`
	resp, err := http.Post(srv.URL+"/v1/analyze", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(raw)
	for _, want := range []string{`"type":"phase_change"`, `"type":"artifact_discovered"`, `"type":"final_result"`} {
		if !strings.Contains(stream, want) {
			t.Fatalf("missing %s in stream:\n%s", want, stream)
		}
	}

	list, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer list.Body.Close()
	var out struct {
		Sessions []sessionstore.Session `json:"sessions"`
	}
	if err := json.NewDecoder(list.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Sessions) != 1 || out.Sessions[0].Phase != "completed" || out.Sessions[0].Repository != "acme/widgets" {
		t.Fatalf("sessions=%+v", out.Sessions)
	}

	one, err := http.Get(srv.URL + "/v1/sessions/" + out.Sessions[0].SessionID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want=200", one.StatusCode)
	}
}

func TestServe_RejectedItemStreamsFatalError(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze?format=ndjson", strings.NewReader(`{"item": {"title": "x"}}`))
	rr := httptest.NewRecorder()
	h.routes().ServeHTTP(rr, req)

	var ev map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rr.Body.String())), &ev); err != nil {
		t.Fatalf("body=%q: %v", rr.Body.String(), err)
	}
	if ev["type"] != "error" || ev["code"] != "invalid_request" || ev["fatal"] != true {
		t.Fatalf("event=%v", ev)
	}
}

func TestServe_BadBodyAndMissingSession(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	mux := h.routes()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"bogus": 1}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=400", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want=404", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "reposcout_") {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}
