package tools

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/floegence/reposcout/internal/repo"
)

const (
	SearchSourceIndex = "index"
	SearchSourceScan  = "scan"
)

type SearchMatch struct {
	Path     string   `json:"path"`
	Line     int      `json:"line,omitempty"`
	Fragment string   `json:"fragment,omitempty"`
	Context  []string `json:"context,omitempty"`
}

type SearchCodeResult struct {
	Query     string        `json:"query"`
	Source    string        `json:"source"`
	Results   []SearchMatch `json:"results"`
	Truncated bool          `json:"truncated"`

	// ScanLimited is set when the fallback scan skipped candidate files.
	ScanLimited bool `json:"scanLimited,omitempty"`
}

var deniedDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	".git":         {},
	".next":        {},
	".nuxt":        {},
	".turbo":       {},
	".cache":       {},
	"coverage":     {},
	"target":       {},
	"__pycache__":  {},
	".venv":        {},
}

var deniedFiles = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"bun.lockb":         {},
	"go.sum":            {},
	"cargo.lock":        {},
	"composer.lock":     {},
	"poetry.lock":       {},
	"gemfile.lock":      {},
}

var deniedExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {}, ".webp": {}, ".avif": {}, ".svg": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp3": {}, ".mp4": {}, ".wav": {}, ".mov": {}, ".webm": {}, ".ogg": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".7z": {}, ".rar": {}, ".bz2": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".bin": {}, ".o": {}, ".a": {}, ".wasm": {},
	".class": {}, ".jar": {}, ".pyc": {}, ".pdf": {}, ".map": {}, ".lockb": {},
}

// isDeniedPath reports whether the fallback scan must skip p: dependency and build
// output directories, lock files, minified bundles and binary assets.
func isDeniedPath(p string) bool {
	segs := strings.Split(p, "/")
	for _, seg := range segs[:len(segs)-1] {
		if _, ok := deniedDirs[seg]; ok {
			return true
		}
	}
	name := strings.ToLower(segs[len(segs)-1])
	if _, ok := deniedFiles[name]; ok {
		return true
	}
	if strings.HasSuffix(name, ".min.js") || strings.HasSuffix(name, ".min.css") {
		return true
	}
	_, ok := deniedExts[path.Ext(name)]
	return ok
}

func (e *Executor) searchCode(ctx context.Context, args map[string]any) (SearchCodeResult, error) {
	query, _ := readStringArg(args, "query", "q")
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchCodeResult{}, invalidArgs("query is required")
	}
	pattern, _ := readStringArg(args, "filePattern", "file_pattern")
	glob := CompileGlob(pattern)
	max := e.limits.DefaultSearchResults
	if n, ok := readIntArg(args, "maxResults", "max_results"); ok {
		max = clampInt(n, 1, e.limits.MaxSearchResults)
	}

	hits, err := e.gw.SearchCode(ctx, e.ref, query)
	if err != nil {
		e.log.Debug("indexed search failed, scanning instead", "query", query, "error", err)
	}
	if err == nil {
		out := SearchCodeResult{Query: query, Source: SearchSourceIndex, Results: make([]SearchMatch, 0, len(hits))}
		for _, h := range hits {
			p := repo.CleanPath(h.Path)
			if p == "" || !glob.Match(p) {
				continue
			}
			if len(out.Results) == max {
				out.Truncated = true
				break
			}
			out.Results = append(out.Results, SearchMatch{Path: p, Fragment: strings.TrimSpace(h.Fragment)})
		}
		if len(out.Results) > 0 {
			return out, nil
		}
	}
	return e.scanSearch(ctx, query, glob, max)
}

// scanSearch reads candidate files one by one and matches the query as a
// case-insensitive literal. It stops as soon as max results are collected, even
// in the middle of a file.
func (e *Executor) scanSearch(ctx context.Context, query string, glob *Glob, max int) (SearchCodeResult, error) {
	tree, err := e.gw.GetTree(ctx, e.ref)
	if err != nil {
		return SearchCodeResult{}, err
	}
	out := SearchCodeResult{Query: query, Source: SearchSourceScan, Results: make([]SearchMatch, 0, max)}
	needle := strings.ToLower(query)
	scanned := 0

	for _, node := range tree {
		if node.Kind != repo.NodeFile {
			continue
		}
		p := repo.CleanPath(node.Path)
		if p == "" || isDeniedPath(p) || !glob.Match(p) {
			continue
		}
		if scanned >= e.limits.MaxScanFiles {
			out.ScanLimited = true
			break
		}
		if err := ctx.Err(); err != nil {
			return SearchCodeResult{}, err
		}
		scanned++
		fc, err := e.gw.GetFileContent(ctx, e.ref, p)
		if err != nil {
			e.log.Debug("scan skipped file", "path", p, "error", err)
			continue
		}
		if strings.IndexByte(fc.Content, 0) >= 0 {
			continue
		}
		lines := splitLines(fc.Content)
		for i, line := range lines {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			out.Results = append(out.Results, SearchMatch{
				Path:     p,
				Line:     i + 1,
				Fragment: strings.TrimSpace(line),
				Context:  contextWindow(lines, i, e.limits.ContextLines),
			})
			if len(out.Results) >= max {
				out.Truncated = true
				return out, nil
			}
		}
	}
	return out, nil
}

func contextWindow(lines []string, idx int, radius int) []string {
	if radius <= 0 {
		return nil
	}
	lo := idx - radius
	if lo < 0 {
		lo = 0
	}
	hi := idx + radius
	if hi > len(lines)-1 {
		hi = len(lines) - 1
	}
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, fmt.Sprintf("%d: %s", i+1, lines[i]))
	}
	return out
}
