package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/floegence/reposcout/internal/repo"
)

type DirEntry struct {
	Name string        `json:"name"`
	Path string        `json:"path"`
	Type repo.NodeKind `json:"type"`
	Size *int64        `json:"size,omitempty"`
}

type ListDirectoryResult struct {
	Path      string     `json:"path"`
	Entries   []DirEntry `json:"entries"`
	Total     int        `json:"total"`
	Truncated bool       `json:"truncated"`
}

func (e *Executor) listDirectory(ctx context.Context, args map[string]any) (ListDirectoryResult, error) {
	raw, _ := readStringArg(args, "path", "dir")
	base, err := normalizeRepoPath(raw)
	if err != nil {
		return ListDirectoryResult{}, err
	}
	depth := 1
	if d, ok := readIntArg(args, "maxDepth", "max_depth"); ok {
		depth = clampInt(d, 1, e.limits.MaxListDepth)
	}

	tree, err := e.gw.GetTree(ctx, e.ref)
	if err != nil {
		return ListDirectoryResult{}, err
	}
	entries, found, err := listTree(tree, base, depth)
	if err != nil {
		return ListDirectoryResult{}, err
	}
	if !found {
		return ListDirectoryResult{}, &repo.Error{Kind: repo.KindNotFound, Op: "list directory", Path: base}
	}

	out := ListDirectoryResult{Path: base, Entries: entries, Total: len(entries)}
	if len(out.Entries) > e.limits.MaxListEntries {
		out.Entries = out.Entries[:e.limits.MaxListEntries]
		out.Truncated = true
	}
	return out, nil
}

// listTree rebuilds the entries under base from a flat listing. Directories are
// synthesized from descendant paths whether or not the listing names them.
func listTree(tree []repo.TreeNode, base string, depth int) ([]DirEntry, bool, error) {
	prefix := ""
	if base != "" {
		prefix = base + "/"
	}
	found := base == ""
	byPath := make(map[string]DirEntry)

	for _, node := range tree {
		p := repo.CleanPath(node.Path)
		if p == "" {
			continue
		}
		if p == base {
			if node.Kind == repo.NodeFile {
				return nil, false, invalidArgs(fmt.Sprintf("%s is a file, use read_file", base))
			}
			found = true
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		found = true
		segs := strings.Split(p[len(prefix):], "/")
		for i := 0; i < len(segs) && i < depth; i++ {
			rel := strings.Join(segs[:i+1], "/")
			full := prefix + rel
			leaf := i == len(segs)-1
			if leaf && node.Kind == repo.NodeFile {
				byPath[full] = DirEntry{Name: rel, Path: full, Type: repo.NodeFile, Size: node.Size}
				continue
			}
			if _, ok := byPath[full]; !ok {
				byPath[full] = DirEntry{Name: rel, Path: full, Type: repo.NodeDir}
			}
		}
	}

	out := make([]DirEntry, 0, len(byPath))
	for _, ent := range byPath {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == repo.NodeDir
		}
		return out[i].Path < out[j].Path
	})
	return out, found, nil
}

// normalizeRepoPath cleans a model-supplied path and rejects parent references.
func normalizeRepoPath(raw string) (string, error) {
	p := repo.CleanPath(raw)
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", invalidArgs(fmt.Sprintf("path %q must not contain '..'", strings.TrimSpace(raw)))
		}
	}
	return p, nil
}
