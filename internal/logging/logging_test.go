package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_AutoUsesJSONForNonTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New("auto", "info", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("session started", "session_id", "s1")
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d, want=1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "session started" || rec["session_id"] != "s1" {
		t.Fatalf("record=%v", rec)
	}
}

func TestNew_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New("TEXT", "debug", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("probe", "k", "v")
	if !strings.Contains(buf.String(), "msg=probe") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("output=%q", buf.String())
	}
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	t.Parallel()

	if _, err := New("xml", "info", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := New("json", "loud", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v err=%v, want=%v", in, got, err, want)
		}
	}
}
