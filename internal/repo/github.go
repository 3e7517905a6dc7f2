package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// GitHubOptions configures a GitHub-backed gateway.
type GitHubOptions struct {
	// Token is a personal access or installation token. Empty means anonymous access.
	Token string
	// BaseURL overrides the REST endpoint (GitHub Enterprise or tests), e.g. "https://ghe.example.com/api/v3/".
	BaseURL string
	// HTTPClient is the base transport. The token source wraps it when Token is set.
	HTTPClient *http.Client

	RequestsPerSecond float64
	Burst             int
	Retry             RetryConfig

	Logger *slog.Logger
}

// GitHubGateway implements Gateway over the GitHub REST API.
type GitHubGateway struct {
	client  *github.Client
	limiter *rate.Limiter
	retry   RetryConfig
	log     *slog.Logger

	trees singleflight.Group

	mu       sync.Mutex
	branches map[string]string // owner/repo -> default branch
}

// NewGitHub creates a GitHub gateway.
func NewGitHub(opts GitHubOptions) (*GitHubGateway, error) {
	httpClient := opts.HTTPClient
	if token := strings.TrimSpace(opts.Token); token != "" {
		ctx := context.Background()
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(httpClient)
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	retry := opts.Retry
	if retry == (RetryConfig{}) {
		retry = DefaultRetryConfig()
	}
	return &GitHubGateway{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		retry:    retry,
		log:      log.With("component", "github_gateway"),
		branches: make(map[string]string),
	}, nil
}

func (g *GitHubGateway) do(ctx context.Context, op func() (*github.Response, error)) (*github.Response, error) {
	return retryGitHubOperation(ctx, g.retry, g.log, func() (*github.Response, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return op()
	})
}

func (g *GitHubGateway) resolveBranch(ctx context.Context, ref Ref) (string, error) {
	if b := strings.TrimSpace(ref.Branch); b != "" {
		return b, nil
	}
	key := strings.ToLower(ref.Owner + "/" + ref.Repo)
	g.mu.Lock()
	b, ok := g.branches[key]
	g.mu.Unlock()
	if ok {
		return b, nil
	}

	var repository *github.Repository
	resp, err := g.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repository, resp, err = g.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
		return resp, err
	})
	if err != nil {
		return "", classifyGitHubError("get repository", "", resp, err)
	}
	b = strings.TrimSpace(repository.GetDefaultBranch())
	if b == "" {
		b = "main"
	}
	g.mu.Lock()
	g.branches[key] = b
	g.mu.Unlock()
	return b, nil
}

// GetTree returns the recursive flat listing of a branch. Concurrent calls for the
// same ref share one request.
func (g *GitHubGateway) GetTree(ctx context.Context, ref Ref) ([]TreeNode, error) {
	if g == nil {
		return nil, errors.New("nil gateway")
	}
	branch, err := g.resolveBranch(ctx, ref)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(ref.Owner+"/"+ref.Repo) + "@" + branch
	// The shared fetch outlives any one caller; each caller stops waiting on its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	ch := g.trees.DoChan(key, func() (any, error) {
		var tree *github.Tree
		resp, err := g.do(fetchCtx, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			tree, resp, err = g.client.Git.GetTree(fetchCtx, ref.Owner, ref.Repo, branch, true)
			return resp, err
		})
		if err != nil {
			return nil, classifyGitHubError("get tree", "", resp, err)
		}
		if tree.GetTruncated() {
			g.log.Warn("github tree listing truncated", "repo", ref.String(), "entries", len(tree.Entries))
		}
		return convertTreeEntries(tree.Entries), nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	nodes := res.Val.([]TreeNode)
	out := make([]TreeNode, len(nodes))
	copy(out, nodes)
	return out, nil
}

func convertTreeEntries(entries []*github.TreeEntry) []TreeNode {
	out := make([]TreeNode, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		p := CleanPath(e.GetPath())
		if p == "" {
			continue
		}
		var kind NodeKind
		switch e.GetType() {
		case "blob":
			kind = NodeFile
		case "tree":
			kind = NodeDir
		default:
			// Submodule commits have no content in this repository.
			continue
		}
		node := TreeNode{Path: p, Kind: kind, Hash: e.GetSHA()}
		if e.Size != nil {
			size := int64(*e.Size)
			node.Size = &size
		}
		out = append(out, node)
	}
	return out
}

// GetFileContent returns the decoded content of one file.
func (g *GitHubGateway) GetFileContent(ctx context.Context, ref Ref, path string) (FileContent, error) {
	if g == nil {
		return FileContent{}, errors.New("nil gateway")
	}
	p := CleanPath(path)
	if p == "" {
		return FileContent{}, newError(KindNotFound, "get content", path, errors.New("empty path"))
	}
	branch, err := g.resolveBranch(ctx, ref)
	if err != nil {
		return FileContent{}, err
	}

	var file *github.RepositoryContent
	var dir []*github.RepositoryContent
	resp, err := g.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		file, dir, resp, err = g.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, p, &github.RepositoryContentGetOptions{Ref: branch})
		return resp, err
	})
	if err != nil {
		return FileContent{}, classifyGitHubError("get content", p, resp, err)
	}
	if file == nil {
		if dir != nil {
			return FileContent{}, newError(KindNotFound, "get content", p, errors.New("path is a directory"))
		}
		return FileContent{}, newError(KindNotFound, "get content", p, nil)
	}

	// The contents API omits bodies above 1 MiB; fall back to the blob endpoint.
	if strings.EqualFold(file.GetEncoding(), "none") && file.GetSHA() != "" {
		var raw []byte
		resp, err := g.do(ctx, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			raw, resp, err = g.client.Git.GetBlobRaw(ctx, ref.Owner, ref.Repo, file.GetSHA())
			return resp, err
		})
		if err != nil {
			return FileContent{}, classifyGitHubError("get blob", p, resp, err)
		}
		return FileContent{Content: string(raw), Size: int64(len(raw)), Hash: file.GetSHA()}, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return FileContent{}, newError(KindUnknown, "decode content", p, err)
	}
	size := int64(file.GetSize())
	if size == 0 {
		size = int64(len(content))
	}
	return FileContent{Content: content, Size: size, Hash: file.GetSHA()}, nil
}

// SearchCode runs GitHub code search scoped to the repository. GitHub only indexes
// the default branch, so ref.Branch is ignored.
func (g *GitHubGateway) SearchCode(ctx context.Context, ref Ref, query string) ([]SearchHit, error) {
	if g == nil {
		return nil, errors.New("nil gateway")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := fmt.Sprintf("%s repo:%s/%s", query, ref.Owner, ref.Repo)
	var res *github.CodeSearchResult
	resp, err := g.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		res, resp, err = g.client.Search.Code(ctx, q, &github.SearchOptions{
			TextMatch:   true,
			ListOptions: github.ListOptions{PerPage: 100},
		})
		return resp, err
	})
	if err != nil {
		return nil, classifyGitHubError("search code", "", resp, err)
	}
	out := make([]SearchHit, 0, len(res.CodeResults))
	for _, r := range res.CodeResults {
		if r == nil {
			continue
		}
		hit := SearchHit{Path: CleanPath(r.GetPath())}
		for _, m := range r.TextMatches {
			if m != nil && strings.TrimSpace(m.GetFragment()) != "" {
				hit.Fragment = m.GetFragment()
				break
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

func classifyGitHubError(op string, path string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindUnavailable, op, path, err)
	}
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return newError(KindRateLimited, op, path, err)
	}
	switch code := statusCode(resp); {
	case code == http.StatusUnauthorized:
		return newError(KindAuth, op, path, err)
	case code == http.StatusForbidden:
		if isRateLimited(resp) {
			return newError(KindRateLimited, op, path, err)
		}
		return newError(KindAccessDenied, op, path, err)
	case code == http.StatusNotFound:
		return newError(KindNotFound, op, path, err)
	case code == http.StatusTooManyRequests:
		return newError(KindRateLimited, op, path, err)
	case code >= 500:
		return newError(KindUnavailable, op, path, err)
	default:
		return newError(KindUnknown, op, path, err)
	}
}
