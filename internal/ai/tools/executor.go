package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/floegence/reposcout/internal/repo"
)

// Limits bounds the size of capability results.
type Limits struct {
	MaxListEntries       int
	MaxListDepth         int
	MaxFileBytes         int
	DefaultSearchResults int
	MaxSearchResults     int
	MaxScanFiles         int
	ContextLines         int
}

func DefaultLimits() Limits {
	return Limits{
		MaxListEntries:       500,
		MaxListDepth:         5,
		MaxFileBytes:         100 * 1024,
		DefaultSearchResults: 20,
		MaxSearchResults:     100,
		MaxScanFiles:         200,
		ContextLines:         2,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxListEntries <= 0 {
		l.MaxListEntries = d.MaxListEntries
	}
	if l.MaxListDepth <= 0 {
		l.MaxListDepth = d.MaxListDepth
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = d.MaxFileBytes
	}
	if l.MaxSearchResults <= 0 {
		l.MaxSearchResults = d.MaxSearchResults
	}
	if l.DefaultSearchResults <= 0 {
		l.DefaultSearchResults = d.DefaultSearchResults
	}
	if l.DefaultSearchResults > l.MaxSearchResults {
		l.DefaultSearchResults = l.MaxSearchResults
	}
	if l.MaxScanFiles <= 0 {
		l.MaxScanFiles = d.MaxScanFiles
	}
	if l.ContextLines <= 0 {
		l.ContextLines = d.ContextLines
	}
	return l
}

type ExecutorOptions struct {
	Gateway repo.Gateway
	Ref     repo.Ref
	Limits  Limits
	Logger  *slog.Logger
}

// Executor runs capabilities against one repository branch. It holds no state
// between calls and is safe for concurrent use if the gateway is.
type Executor struct {
	gw     repo.Gateway
	ref    repo.Ref
	limits Limits
	log    *slog.Logger
}

func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Gateway == nil {
		return nil, errors.New("missing repository gateway")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		gw:     opts.Gateway,
		ref:    opts.Ref,
		limits: opts.Limits.withDefaults(),
		log:    log,
	}, nil
}

func (e *Executor) Ref() repo.Ref { return e.ref }

// Execute runs one capability and returns its typed result.
func (e *Executor) Execute(ctx context.Context, c Capability, args map[string]any) (any, error) {
	if e == nil {
		return nil, errors.New("nil executor")
	}
	if args == nil {
		args = map[string]any{}
	}
	switch c {
	case CapListDirectory:
		return e.listDirectory(ctx, args)
	case CapReadFile:
		return e.readFile(ctx, args)
	case CapSearchCode:
		return e.searchCode(ctx, args)
	case CapGetImportsExports:
		return e.importsExports(ctx, args)
	default:
		return nil, &UnknownCapabilityError{Name: string(c)}
	}
}

// Dispatch resolves a model-requested tool call by name, executes it and records the
// outcome. Failures are captured on the returned Call, never returned.
func (e *Executor) Dispatch(ctx context.Context, id string, name string, args map[string]any) Call {
	call := Call{ID: id, Capability: Capability(name), Input: cloneArgs(args)}
	started := time.Now()

	c, err := ParseCapability(name)
	var out any
	if err == nil {
		out, err = e.Execute(ctx, c, args)
	}
	call.Duration = time.Since(started)
	if err != nil {
		call.Error = ClassifyError(c, err)
		e.log.Debug("capability failed", "capability", name, "tool_id", id, "code", call.Error.Code, "error", call.Error.Message)
		return call
	}
	b, err := json.Marshal(out)
	if err != nil {
		call.Error = ClassifyError(c, err)
		return call
	}
	call.Output = b
	call.OutputBytes = len(b)
	return call
}
