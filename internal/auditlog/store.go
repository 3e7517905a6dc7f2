// Package auditlog keeps a rotating JSONL trail of session lifecycle events.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes   = int64(4 << 20)
	defaultMaxBackups = 3
	maxListEntries    = 1000

	activeName   = "events.jsonl"
	backupPrefix = "events-"
)

// Entry is one audit line.
type Entry struct {
	CreatedAt string `json:"created_at"`
	SessionID string `json:"session_id,omitempty"`
	Action    string `json:"action"`
	// Status is "success" or "failure".
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	Phase      string `json:"phase,omitempty"`
	Capability string `json:"capability,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Path       string `json:"path,omitempty"`

	Detail map[string]any `json:"detail,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// StateDir holds the audit/ directory.
	StateDir string

	// MaxBytes is the rotation threshold of the active file.
	MaxBytes int64
	// MaxBackups is how many rotated files survive pruning.
	MaxBackups int
}

// Store appends audit entries to <state_dir>/audit/events.jsonl and rotates
// the file once it outgrows MaxBytes.
type Store struct {
	log        *slog.Logger
	dir        string
	maxBytes   int64
	maxBackups int

	mu  sync.Mutex
	seq int

	trailsMu sync.Mutex
	trails   map[string]*trail
}

func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.StateDir) == "" {
		return nil, errors.New("missing StateDir")
	}
	s := &Store{
		log:        opts.Logger,
		dir:        filepath.Join(strings.TrimSpace(opts.StateDir), "audit"),
		maxBytes:   opts.MaxBytes,
		maxBackups: opts.MaxBackups,
		trails:     map[string]*trail{},
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "auditlog")
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBytes
	}
	if s.maxBackups <= 0 {
		s.maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, err
	}
	f, err := s.openActive(os.O_APPEND)
	if err != nil {
		return nil, err
	}
	return s, f.Close()
}

func (s *Store) activePath() string {
	return filepath.Join(s.dir, activeName)
}

func (s *Store) openActive(flag int) (*os.File, error) {
	return os.OpenFile(s.activePath(), os.O_CREATE|os.O_WRONLY|flag, 0o600)
}

// Append writes e, filling CreatedAt and Status when unset. Failures are
// logged and never surface to the session.
func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Status == "" {
		e.Status = "success"
	}
	line, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("auditlog encode failed", "action", e.Action, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.openActive(os.O_APPEND)
	if err != nil {
		s.log.Warn("auditlog append failed", "error", err)
		return
	}
	_, err = f.Write(append(line, '\n'))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.log.Warn("auditlog append failed", "error", err)
		return
	}
	if st, err := os.Stat(s.activePath()); err == nil && st.Size() > s.maxBytes {
		s.rotateLocked()
	}
}

func (s *Store) rotateLocked() {
	s.seq++
	backup := filepath.Join(s.dir, fmt.Sprintf("%s%013d-%04d.jsonl", backupPrefix, time.Now().UnixMilli(), s.seq%10000))
	if err := os.Rename(s.activePath(), backup); err != nil {
		s.log.Warn("auditlog rotate failed", "error", err)
		return
	}
	if f, err := s.openActive(os.O_TRUNC); err == nil {
		_ = f.Close()
	}
	backups := s.backupsLocked()
	for len(backups) > s.maxBackups {
		_ = os.Remove(backups[len(backups)-1])
		backups = backups[:len(backups)-1]
	}
}

// backupsLocked returns rotated files, newest first. Names embed a fixed
// width timestamp so lexical order is age order.
func (s *Store) backupsLocked() []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, ent := range ents {
		name := ent.Name()
		if !ent.IsDir() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".jsonl") {
			out = append(out, filepath.Join(s.dir, name))
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// List returns up to limit entries, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	limit = min(limit, maxListEntries)

	s.mu.Lock()
	files := append([]string{s.activePath()}, s.backupsLocked()...)
	s.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			s.log.Warn("auditlog read failed", "path", path, "error", err)
			continue
		}
		for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, entries[i])
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListSession returns the newest limit entries of one session, oldest first.
func (s *Store) ListSession(sessionID string, limit int) ([]Entry, error) {
	all, err := s.List(maxListEntries)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range slices.Backward(all) {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// readEntries decodes a JSONL file in file order, skipping unreadable lines.
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var e Entry
		if line := sc.Bytes(); len(line) > 0 && json.Unmarshal(line, &e) == nil {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}
