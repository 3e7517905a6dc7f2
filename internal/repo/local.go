package repo

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalGateway serves a directory on disk as a single repository. The ref is ignored.
// It has no search index, so SearchCode always returns no hits.
type LocalGateway struct {
	root string
}

func NewLocal(root string) (*LocalGateway, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &LocalGateway{root: filepath.Clean(abs)}, nil
}

func (g *LocalGateway) Root() string {
	if g == nil {
		return ""
	}
	return g.root
}

func (g *LocalGateway) GetTree(ctx context.Context, _ Ref) ([]TreeNode, error) {
	if g == nil {
		return nil, errors.New("nil gateway")
	}
	out := make([]TreeNode, 0, 256)
	err := filepath.WalkDir(g.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == g.root {
			return nil
		}
		rel, err := filepath.Rel(g.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			out = append(out, TreeNode{Path: rel, Kind: NodeDir})
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := info.Size()
		// Hash is left empty here; GetFileContent reports it.
		out = append(out, TreeNode{Path: rel, Kind: NodeFile, Size: &size})
		return nil
	})
	if err != nil {
		return nil, newError(KindUnknown, "walk tree", "", err)
	}
	return out, nil
}

func (g *LocalGateway) GetFileContent(ctx context.Context, _ Ref, p string) (FileContent, error) {
	if g == nil {
		return FileContent{}, errors.New("nil gateway")
	}
	if err := ctx.Err(); err != nil {
		return FileContent{}, err
	}
	abs, err := g.resolve(p)
	if err != nil {
		return FileContent{}, newError(KindAccessDenied, "read file", p, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileContent{}, newError(KindNotFound, "read file", p, nil)
		}
		if errors.Is(err, fs.ErrPermission) {
			return FileContent{}, newError(KindAccessDenied, "read file", p, err)
		}
		return FileContent{}, newError(KindUnknown, "read file", p, err)
	}
	if st.IsDir() {
		return FileContent{}, newError(KindNotFound, "read file", p, errors.New("path is a directory"))
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return FileContent{}, newError(KindUnknown, "read file", p, err)
	}
	return FileContent{Content: string(b), Size: int64(len(b)), Hash: blobHash(b)}, nil
}

func (g *LocalGateway) SearchCode(context.Context, Ref, string) ([]SearchHit, error) {
	return nil, nil
}

// resolve maps a repository path to an absolute path confined to the root.
func (g *LocalGateway) resolve(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	rel := strings.TrimPrefix(path.Clean(p), "/")
	relOS := filepath.FromSlash(rel)
	if relOS != "" && filepath.IsAbs(relOS) {
		return "", errors.New("invalid absolute path")
	}
	abs := filepath.Clean(filepath.Join(g.root, relOS))
	ok, err := isWithinRoot(abs, g.root)
	if err != nil || !ok {
		return "", errors.New("path escapes root")
	}
	return abs, nil
}

func isWithinRoot(p string, root string) (bool, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false, err
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// blobHash hashes content the way git hashes blob objects.
func blobHash(b []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(b))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
