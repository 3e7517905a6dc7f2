package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryGateway is a map-backed gateway used by tests and offline evaluation.
// Directories are implied by file paths and are not listed explicitly.
type MemoryGateway struct {
	mu    sync.Mutex
	files map[string]string

	// SearchErr, when set, is returned by SearchCode.
	SearchErr error
	// SearchHits, when set, is returned by SearchCode for every query.
	SearchHits []SearchHit
	// TreeErr, when set, is returned by GetTree.
	TreeErr error

	reads    map[string]int
	treeHits int
}

func NewMemory(files map[string]string) *MemoryGateway {
	m := &MemoryGateway{files: make(map[string]string, len(files)), reads: make(map[string]int)}
	for p, content := range files {
		m.files[CleanPath(p)] = content
	}
	return m
}

func (m *MemoryGateway) Put(p string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[CleanPath(p)] = content
}

func (m *MemoryGateway) GetTree(ctx context.Context, _ Ref) ([]TreeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treeHits++
	if m.TreeErr != nil {
		return nil, m.TreeErr
	}
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]TreeNode, 0, len(paths))
	for _, p := range paths {
		size := int64(len(m.files[p]))
		out = append(out, TreeNode{Path: p, Kind: NodeFile, Size: &size, Hash: blobHash([]byte(m.files[p]))})
	}
	return out, nil
}

func (m *MemoryGateway) GetFileContent(ctx context.Context, _ Ref, p string) (FileContent, error) {
	if err := ctx.Err(); err != nil {
		return FileContent{}, err
	}
	p = CleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[p]++
	content, ok := m.files[p]
	if !ok {
		return FileContent{}, newError(KindNotFound, "get content", p, nil)
	}
	return FileContent{Content: content, Size: int64(len(content)), Hash: blobHash([]byte(content))}, nil
}

func (m *MemoryGateway) SearchCode(ctx context.Context, _ Ref, query string) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	out := make([]SearchHit, len(m.SearchHits))
	copy(out, m.SearchHits)
	return out, nil
}

// Reads reports how many times p was fetched.
func (m *MemoryGateway) Reads(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[CleanPath(p)]
}

// TreeFetches reports how many times the tree was listed.
func (m *MemoryGateway) TreeFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.treeHits
}
