// Package repo defines the narrow repository contract the analysis core depends on
// and the gateways that implement it (GitHub, a local checkout, and an in-memory tree).
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Ref identifies one branch of one repository.
type Ref struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
}

func (r Ref) String() string {
	s := strings.TrimSpace(r.Owner) + "/" + strings.TrimSpace(r.Repo)
	if b := strings.TrimSpace(r.Branch); b != "" {
		s += "@" + b
	}
	return s
}

// ParseRef parses "owner/repo" or "owner/repo@branch".
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	name, branch, _ := strings.Cut(raw, "@")
	owner, repoName, ok := strings.Cut(name, "/")
	owner = strings.TrimSpace(owner)
	repoName = strings.TrimSpace(repoName)
	if !ok || owner == "" || repoName == "" || strings.Contains(repoName, "/") {
		return Ref{}, fmt.Errorf("invalid repository %q, want owner/repo[@branch]", raw)
	}
	return Ref{Owner: owner, Repo: repoName, Branch: strings.TrimSpace(branch)}, nil
}

// NodeKind is the kind of a tree entry.
type NodeKind string

const (
	NodeFile NodeKind = "file"
	NodeDir  NodeKind = "dir"
)

// TreeNode is one entry of a branch's flat file listing.
type TreeNode struct {
	Path string   `json:"path"`
	Kind NodeKind `json:"kind"`
	Hash string   `json:"hash,omitempty"`
	Size *int64   `json:"size,omitempty"`
}

// FileContent is the raw content of one file.
type FileContent struct {
	Content string `json:"content"`
	Size    int64  `json:"size"`
	Hash    string `json:"hash,omitempty"`
}

// SearchHit is one result of an indexed code search.
type SearchHit struct {
	Path     string `json:"path"`
	Fragment string `json:"fragment,omitempty"`
}

// Gateway is the repository contract consumed by the capability executor.
type Gateway interface {
	GetTree(ctx context.Context, ref Ref) ([]TreeNode, error)
	GetFileContent(ctx context.Context, ref Ref, path string) (FileContent, error)
	SearchCode(ctx context.Context, ref Ref, query string) ([]SearchHit, error)
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindNotFound     ErrorKind = "not_found"
	KindAccessDenied ErrorKind = "access_denied"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnavailable  ErrorKind = "unavailable"
	KindUnknown      ErrorKind = "unknown"
)

var (
	ErrAuth         = &Error{Kind: KindAuth}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrRateLimited  = &Error{Kind: KindRateLimited}
	ErrUnavailable  = &Error{Kind: KindUnavailable}
)

// Error is a classified gateway failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	switch e.Kind {
	case KindAuth:
		sb.WriteString("authentication failed")
	case KindNotFound:
		sb.WriteString("not found")
	case KindAccessDenied:
		sb.WriteString("access denied")
	case KindRateLimited:
		sb.WriteString("rate limited")
	case KindUnavailable:
		sb.WriteString("repository service unavailable")
	default:
		sb.WriteString("repository error")
	}
	if e.Path != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Path)
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Err == nil
}

// KindOf reports the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) && e != nil && e.Kind != "" {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// CleanPath normalizes a repository-relative path: slashes only, no leading "./" or "/",
// collapsed separators. Root is "".
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
