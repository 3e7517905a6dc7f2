package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/events"
	"github.com/floegence/reposcout/internal/ai/sessionstore"
	"github.com/floegence/reposcout/internal/lockfile"
	"github.com/floegence/reposcout/internal/metrics"
)

var (
	serveAddr  string
	serveLocal string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the streaming analysis endpoint and Prometheus metrics",
	Long: `Serve HTTP endpoints:

  POST /v1/analyze          run a session; events stream as SSE (or NDJSON with ?format=ndjson)
  GET  /v1/sessions         list recorded sessions (?limit=, ?cursor=)
  GET  /v1/sessions/{id}    one session with its capability calls
  GET  /metrics             Prometheus metrics
  GET  /healthz             liveness

The analyze request body is {"item": {...}, "config": {...}}. Closing the
connection cancels the session.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveLocal, "local", "", "Read files from this local checkout instead of the GitHub API")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	// One server per state directory.
	lock, err := lockfile.Acquire(filepath.Join(a.cfg.StateDir, "serve.lock"))
	if err != nil {
		return fmt.Errorf("another server is running: %w", err)
	}
	defer func() { _ = lock.Release() }()

	gw, err := a.gateway(serveLocal)
	if err != nil {
		return err
	}
	svc, err := a.openServices()
	if err != nil {
		return err
	}
	defer svc.close()

	rec := metrics.New(prometheus.NewRegistry())
	o, err := a.orchestrator(gw, svc, rec)
	if err != nil {
		return err
	}

	h := &httpHandler{orch: o, sessions: svc.sessions, metrics: rec, keepAlive: a.cfg.Stream.KeepAlive, log: a.log}
	addr := strings.TrimSpace(serveAddr)
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

type httpHandler struct {
	orch      *ai.Orchestrator
	sessions  *sessionstore.Store
	metrics   *metrics.Recorder
	keepAlive time.Duration
	log       *slog.Logger
}

func (h *httpHandler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.Handle("GET /metrics", h.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return mux
}

type analyzeRequest struct {
	Item   ai.WorkItem      `json:"item"`
	Config ai.SessionConfig `json:"config"`
}

func (h *httpHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	var sub events.Subscriber
	if strings.EqualFold(r.URL.Query().Get("format"), "ndjson") {
		sub = events.NewNDJSONWriter(w)
	} else {
		sse := events.NewSSEWriter(w, h.keepAlive)
		defer sse.Close()
		sub = sse
	}
	w.WriteHeader(http.StatusOK)

	// The request context ends when the client disconnects, which cancels the session.
	res, err := h.orch.Analyze(r.Context(), req.Item, req.Config, sub)
	if err == nil {
		return
	}
	if res == nil {
		// Rejected before a session started, so nothing was streamed yet.
		ev := events.Error(string(ai.CodeOf(err)), err.Error(), true)
		ev.Timestamp = time.Now()
		sub.HandleEvent(ev)
		h.log.Info("analysis rejected", "code", ai.CodeOf(err), "error", err)
		return
	}
	h.log.Info("analysis ended with error", "session_id", res.SessionID, "code", ai.CodeOf(err), "error", err)
}

func (h *httpHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var cursor sessionstore.SessionsCursor
	if raw := strings.TrimSpace(q.Get("cursor")); raw != "" {
		c, ok := sessionstore.DecodeCursor(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid cursor"})
			return
		}
		cursor = c
	}
	list, next, err := h.sessions.ListSessions(r.Context(), limit, cursor)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": list, "next_cursor": next})
}

func (h *httpHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	s, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "session not found"})
		return
	}
	calls, err := h.sessions.ListToolCalls(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	art, err := s.Artifact()
	if err != nil {
		h.log.Warn("stored artifact is unreadable", "session_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": s, "tool_calls": calls, "artifact": art})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
