package events

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultKeepAlive is the idle interval after which SSEWriter writes a comment frame.
const DefaultKeepAlive = 15 * time.Second

var errStreamNotReady = errors.New("stream not ready")

// flushWriter serializes writes and flushes after each frame when the
// underlying writer supports it.
type flushWriter struct {
	mu  sync.Mutex
	w   io.Writer
	f   http.Flusher
	err error
}

func newFlushWriter(w io.Writer) flushWriter {
	var f http.Flusher
	if w != nil {
		if fl, ok := w.(http.Flusher); ok {
			f = fl
		}
	}
	return flushWriter{w: w, f: f}
}

// writeLocked writes frame; callers hold mu. The first error sticks.
func (s *flushWriter) writeLocked(frame []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.w == nil {
		s.err = errStreamNotReady
		return s.err
	}
	if _, err := s.w.Write(frame); err != nil {
		s.err = err
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// NDJSONWriter writes one JSON object per line.
type NDJSONWriter struct {
	flushWriter
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "application/x-ndjson")
		rw.Header().Set("Cache-Control", "no-cache")
	}
	return &NDJSONWriter{flushWriter: newFlushWriter(w)}
}

func (s *NDJSONWriter) HandleEvent(ev Event) {
	_ = s.Send(ev)
}

// Send writes v as a single line.
func (s *NDJSONWriter) Send(v any) error {
	if s == nil {
		return errStreamNotReady
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(b)
}

// Err returns the first write error.
func (s *NDJSONWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SSEWriter writes events as server-sent events and injects a comment frame
// whenever the stream has been idle for the keep-alive interval.
type SSEWriter struct {
	flushWriter

	keepAlive time.Duration
	last      time.Time
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

// NewSSEWriter starts the keep-alive loop when keepAlive > 0. Close stops it.
func NewSSEWriter(w io.Writer, keepAlive time.Duration) *SSEWriter {
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	}
	s := &SSEWriter{
		flushWriter: newFlushWriter(w),
		keepAlive:   keepAlive,
		last:        time.Now(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if keepAlive > 0 {
		go s.keepAliveLoop()
	} else {
		close(s.done)
	}
	return s
}

func (s *SSEWriter) HandleEvent(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	frame := make([]byte, 0, len(b)+len(ev.Type)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, ev.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, b...)
	frame = append(frame, "\n\n"...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeLocked(frame) == nil {
		s.last = time.Now()
	}
}

func (s *SSEWriter) keepAliveLoop() {
	defer close(s.done)
	interval := s.keepAlive / 2
	if interval <= 0 {
		interval = s.keepAlive
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			if now.Sub(s.last) >= s.keepAlive {
				if err := s.writeLocked([]byte(": keep-alive\n\n")); err != nil {
					s.mu.Unlock()
					return
				}
				s.last = now
			}
			s.mu.Unlock()
		}
	}
}

// Err returns the first write error.
func (s *SSEWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the keep-alive loop. It does not close the underlying writer.
func (s *SSEWriter) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
