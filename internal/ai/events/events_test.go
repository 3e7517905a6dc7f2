package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/floegence/reposcout/internal/ai/artifact"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEmitter_OrderAndStamping(t *testing.T) {
	t.Parallel()

	var c Collector
	e := NewEmitter("sess-1", &c)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))
	e.now = func() time.Time { return fixed }

	e.Emit(PhaseChange("", PhaseLoading))
	e.Emit(PhaseChange(PhaseLoading, PhaseRunning))
	for i := 1; i <= 50; i++ {
		e.Emit(Progress(i, 50, 0))
	}
	e.Emit(PhaseChange(PhaseRunning, PhaseCompleted))
	e.Close()

	evs := c.Events()
	if len(evs) != 53 {
		t.Fatalf("events=%d, want=53", len(evs))
	}
	for i, ev := range evs[2:52] {
		if ev.Iteration != i+1 {
			t.Fatalf("event %d iteration=%d", i, ev.Iteration)
		}
	}
	for _, ev := range evs {
		if ev.SessionID != "sess-1" {
			t.Fatalf("session_id=%q", ev.SessionID)
		}
		if ev.Timestamp.Location() != time.UTC || !ev.Timestamp.Equal(fixed) {
			t.Fatalf("timestamp=%v", ev.Timestamp)
		}
	}
}

type blockingSubscriber struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Type
}

func (b *blockingSubscriber) HandleEvent(ev Event) {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, ev.Type)
	b.mu.Unlock()
}

func TestEmitter_SlowSubscriberDoesNotBlockEmit(t *testing.T) {
	t.Parallel()

	slow := &blockingSubscriber{release: make(chan struct{})}
	var fast Collector
	e := NewEmitter("s", slow, &fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			e.Emit(PartialReasoning("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Emit blocked on a slow subscriber")
	}

	close(slow.release)
	e.Close()
	if got := len(fast.Events()); got != 1000 {
		t.Fatalf("fast got=%d", got)
	}
	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.got) != 1000 {
		t.Fatalf("slow got=%d", len(slow.got))
	}
}

func TestEmitter_NoSubscribersAndNil(t *testing.T) {
	t.Parallel()

	e := NewEmitter("s")
	e.Emit(Progress(1, 2, 0))
	e.Close()
	e.Close()

	var nilEmitter *Emitter
	nilEmitter.Emit(Progress(1, 2, 0))
	nilEmitter.Close()

	var c Collector
	e = NewEmitter("s", &c)
	e.Close()
	e.Emit(Progress(1, 2, 0))
	if len(c.Events()) != 0 {
		t.Fatalf("event delivered after close")
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()

	var a, b Collector
	var order []string
	f := Fanout{&a, nil, SubscriberFunc(func(ev Event) { order = append(order, string(ev.Type)) }), &b}
	f.HandleEvent(Error("x", "boom", true))
	if len(a.Events()) != 1 || len(b.Events()) != 1 || len(order) != 1 {
		t.Fatalf("fanout delivery a=%d b=%d f=%d", len(a.Events()), len(b.Events()), len(order))
	}
}

func TestEventJSONShape(t *testing.T) {
	t.Parallel()

	ev := ToolCallFinished("call_1", "read_file", 1500*time.Millisecond, 42, "")
	ev.Timestamp = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ev.SessionID = "s"
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"type":         "tool_call_finished",
		"timestamp":    "2026-05-01T00:00:00Z",
		"session_id":   "s",
		"call_id":      "call_1",
		"capability":   "read_file",
		"success":      true,
		"duration_ms":  float64(1500),
		"output_bytes": float64(42),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}

	failed := ToolCallFinished("call_2", "read_file", 0, 0, "NOT_FOUND")
	if failed.Success == nil || *failed.Success {
		t.Fatalf("success=%v", failed.Success)
	}

	final := FinalResult(artifact.Default(), ResultStats{Iterations: 2, ToolCalls: 1, ArtifactClean: true})
	if final.Artifact == nil || final.Stats.Iterations != 2 {
		t.Fatalf("final=%+v", final)
	}
}

func TestNDJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
	w.HandleEvent(Progress(1, 25, 0))
	w.HandleEvent(Error("model_error", "boom", true))

	sc := bufio.NewScanner(&buf)
	var types []string
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		types = append(types, m["type"].(string))
	}
	if diff := cmp.Diff([]string{"progress", "error"}, types); diff != "" {
		t.Fatalf("types (-want +got):\n%s", diff)
	}
	if w.Err() != nil {
		t.Fatalf("err=%v", w.Err())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSSEWriter_Frames(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	w := NewSSEWriter(&buf, 0)
	defer w.Close()

	w.HandleEvent(PhaseChange("", PhaseLoading))
	out := buf.String()
	if !strings.HasPrefix(out, "event: phase_change\ndata: {") || !strings.HasSuffix(out, "}\n\n") {
		t.Fatalf("frame=%q", out)
	}
	if strings.Contains(out, "keep-alive") {
		t.Fatalf("unexpected keep-alive in %q", out)
	}
}

func TestSSEWriter_KeepAlive(t *testing.T) {
	t.Parallel()

	var buf syncBuffer
	w := NewSSEWriter(&buf, 20*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), ": keep-alive\n\n") {
		if time.Now().After(deadline) {
			w.Close()
			t.Fatalf("no keep-alive frame written")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Close()
	w.Close()

	// Keep-alive frames are comments, never events.
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "data:") {
			t.Fatalf("unexpected event line %q", line)
		}
	}
}
