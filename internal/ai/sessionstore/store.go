package sessionstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/floegence/reposcout/internal/ai"
	"github.com/floegence/reposcout/internal/ai/artifact"
	"github.com/floegence/reposcout/internal/ai/events"
	"github.com/floegence/reposcout/internal/ai/tools"
)

const maxErrorRunes = 600

// Store is a local SQLite-backed history of analysis sessions and the
// capability calls they made. It implements ai.SessionRepository.
//
// WAL is enabled so the CLI can read history while a server writes it.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ai.SessionRepository = (*Store)(nil)

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type Session struct {
	SessionID    string `json:"session_id"`
	Title        string `json:"title"`
	Repository   string `json:"repository"`
	Model        string `json:"model"`
	Phase        string `json:"phase"`
	ErrorCode    string `json:"error_code,omitempty"`
	Error        string `json:"error,omitempty"`
	Iterations   int    `json:"iterations"`
	ToolCalls    int    `json:"tool_calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	DurationMs   int64  `json:"duration_ms"`

	ArtifactClean bool   `json:"artifact_clean"`
	ArtifactJSON  string `json:"-"`

	CreatedAtUnixMs  int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs  int64 `json:"updated_at_unix_ms"`
	FinishedAtUnixMs int64 `json:"finished_at_unix_ms,omitempty"`
}

// Artifact decodes the stored artifact. It returns nil for sessions that
// did not complete.
func (s Session) Artifact() (*artifact.Artifact, error) {
	if strings.TrimSpace(s.ArtifactJSON) == "" {
		return nil, nil
	}
	var a artifact.Artifact
	if err := json.Unmarshal([]byte(s.ArtifactJSON), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type ToolCall struct {
	ID              int64  `json:"id"`
	SessionID       string `json:"session_id"`
	CallID          string `json:"call_id"`
	Iteration       int    `json:"iteration"`
	Capability      string `json:"capability"`
	InputJSON       string `json:"input_json"`
	OutputBytes     int    `json:"output_bytes"`
	DurationMs      int64  `json:"duration_ms"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

type SessionsCursor struct {
	CreatedAtUnixMs int64
	SessionID       string
}

// EncodeCursor encodes a cursor as a URL-safe base64 string.
func EncodeCursor(c SessionsCursor) string {
	if c.CreatedAtUnixMs <= 0 || strings.TrimSpace(c.SessionID) == "" {
		return ""
	}
	raw := fmt.Sprintf("%d:%s", c.CreatedAtUnixMs, strings.TrimSpace(c.SessionID))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(raw string) (SessionsCursor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionsCursor{}, true
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return SessionsCursor{}, false
	}
	msRaw, id, ok := strings.Cut(string(b), ":")
	if !ok {
		return SessionsCursor{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(msRaw), 10, 64)
	if err != nil || ms <= 0 {
		return SessionsCursor{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionsCursor{}, false
	}
	return SessionsCursor{CreatedAtUnixMs: ms, SessionID: id}, true
}

func (s *Store) CreateSession(ctx context.Context, rec ai.SessionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("missing session_id")
	}
	created := rec.StartedAt.UnixMilli()
	if rec.StartedAt.IsZero() {
		created = s.now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(
  session_id, title, repository, model, phase,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?)
`,
		id,
		truncateRunes(strings.TrimSpace(rec.Title), 200),
		strings.TrimSpace(rec.Repository),
		strings.TrimSpace(rec.Model),
		string(events.PhaseRunning),
		created,
		created,
	)
	return err
}

func (s *Store) AppendToolCall(ctx context.Context, sessionID string, iteration int, call tools.Call) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session_id")
	}
	input, err := json.Marshal(call.Input)
	if err != nil || call.Input == nil {
		input = []byte("{}")
	}
	var code, msg string
	if call.Error != nil {
		code = string(call.Error.Code)
		msg = truncateRunes(call.Error.Message, maxErrorRunes)
	}
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tool_calls(
  session_id, call_id, iteration, capability, input_json,
  output_bytes, duration_ms, error_code, error_message, created_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, sessionID, call.ID, iteration, string(call.Capability), string(input),
		call.OutputBytes, call.Duration.Milliseconds(), code, msg, now); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE sessions
SET tool_calls = tool_calls + 1, iterations = MAX(iterations, ?), updated_at_unix_ms = ?
WHERE session_id = ?
`, iteration, now, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *Store) FinishSession(ctx context.Context, sessionID string, outcome ai.SessionOutcome) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session_id")
	}
	phase := normalizePhase(outcome.Phase)
	artifactJSON := ""
	if outcome.Artifact != nil {
		b, err := json.Marshal(outcome.Artifact)
		if err != nil {
			return err
		}
		artifactJSON = string(b)
	}
	finished := outcome.FinishedAt.UnixMilli()
	if outcome.FinishedAt.IsZero() {
		finished = s.now().UnixMilli()
	}
	st := outcome.Stats

	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET phase = ?, error_code = ?, error = ?,
    iterations = ?, tool_calls = ?, input_tokens = ?, output_tokens = ?, duration_ms = ?,
    artifact_clean = ?, artifact_json = ?,
    updated_at_unix_ms = ?, finished_at_unix_ms = ?
WHERE session_id = ?
`,
		phase,
		string(outcome.ErrorCode),
		truncateRunes(strings.TrimSpace(outcome.Error), maxErrorRunes),
		st.Iterations,
		st.ToolCalls,
		st.InputTokens,
		st.OutputTokens,
		st.Duration.Milliseconds(),
		boolToInt(st.ArtifactClean),
		artifactJSON,
		finished,
		finished,
		sessionID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const sessionColumns = `
  session_id, title, repository, model, phase, error_code, error,
  iterations, tool_calls, input_tokens, output_tokens, duration_ms,
  artifact_clean, artifact_json,
  created_at_unix_ms, updated_at_unix_ms, finished_at_unix_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var out Session
	var clean int
	err := row.Scan(
		&out.SessionID,
		&out.Title,
		&out.Repository,
		&out.Model,
		&out.Phase,
		&out.ErrorCode,
		&out.Error,
		&out.Iterations,
		&out.ToolCalls,
		&out.InputTokens,
		&out.OutputTokens,
		&out.DurationMs,
		&clean,
		&out.ArtifactJSON,
		&out.CreatedAtUnixMs,
		&out.UpdatedAtUnixMs,
		&out.FinishedAtUnixMs,
	)
	out.ArtifactClean = clean != 0
	return out, err
}

// GetSession returns nil, nil when the session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("invalid request")
	}
	out, err := scanSession(s.db.QueryRowContext(ctx, `SELECT`+sessionColumns+`
FROM sessions
WHERE session_id = ?
`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// ListSessions pages newest first. The returned cursor resumes after the last row.
func (s *Store) ListSessions(ctx context.Context, limit int, cursor SessionsCursor) ([]Session, string, error) {
	if s == nil || s.db == nil {
		return nil, "", errors.New("store not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	args := []any{}
	where := ""
	if cursor.CreatedAtUnixMs > 0 && strings.TrimSpace(cursor.SessionID) != "" {
		where = "WHERE (created_at_unix_ms < ? OR (created_at_unix_ms = ? AND session_id < ?))"
		args = append(args, cursor.CreatedAtUnixMs, cursor.CreatedAtUnixMs, strings.TrimSpace(cursor.SessionID))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT%s
FROM sessions
%s
ORDER BY created_at_unix_ms DESC, session_id DESC
LIMIT ?
`, sessionColumns, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]Session, 0, limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	last := out[len(out)-1]
	return out, EncodeCursor(SessionsCursor{CreatedAtUnixMs: last.CreatedAtUnixMs, SessionID: last.SessionID}), nil
}

func (s *Store) ListToolCalls(ctx context.Context, sessionID string) ([]ToolCall, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("invalid request")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
  id, session_id, call_id, iteration, capability, input_json,
  output_bytes, duration_ms, error_code, error_message, created_at_unix_ms
FROM tool_calls
WHERE session_id = ?
ORDER BY id ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var c ToolCall
		if err := rows.Scan(
			&c.ID,
			&c.SessionID,
			&c.CallID,
			&c.Iteration,
			&c.Capability,
			&c.InputJSON,
			&c.OutputBytes,
			&c.DurationMs,
			&c.ErrorCode,
			&c.ErrorMessage,
			&c.CreatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its tool calls.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("invalid request")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_calls WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  repository TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  phase TEXT NOT NULL DEFAULT 'running',
  error_code TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  iterations INTEGER NOT NULL DEFAULT 0,
  tool_calls INTEGER NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  artifact_clean INTEGER NOT NULL DEFAULT 0,
  artifact_json TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  finished_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at_unix_ms DESC, session_id DESC);

CREATE TABLE IF NOT EXISTS tool_calls (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  call_id TEXT NOT NULL,
  iteration INTEGER NOT NULL,
  capability TEXT NOT NULL,
  input_json TEXT NOT NULL DEFAULT '{}',
  output_bytes INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  error_code TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, id ASC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizePhase(p events.Phase) string {
	switch p {
	case events.PhaseLoading, events.PhaseRunning, events.PhaseCompleted, events.PhaseFailed, events.PhaseExceeded:
		return string(p)
	default:
		return string(events.PhaseFailed)
	}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
