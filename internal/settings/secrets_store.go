package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const secretsVersion = 1

// SecretsStore keeps provider API keys and the GitHub token in a 0600 JSON
// file next to config.yaml. Values are never printed back; commands report
// only whether a secret is set.
type SecretsStore struct {
	path string
	mu   sync.Mutex

	// lookupEnv resolves environment fallbacks.
	lookupEnv func(string) (string, bool)
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path)), lookupEnv: os.LookupEnv}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

type secretsFile struct {
	Version     int               `json:"version"`
	APIKeys     map[string]string `json:"api_keys,omitempty"`
	GitHubToken string            `json:"github_token,omitempty"`
}

func normalizeProvider(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("missing provider")
	}
	return provider, nil
}

// view runs fn on the current file contents under the store lock.
func (s *SecretsStore) view(fn func(*secretsFile)) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.read()
	if err != nil {
		return err
	}
	fn(sf)
	return nil
}

// update applies fn and rewrites the file atomically.
func (s *SecretsStore) update(fn func(*secretsFile) error) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(sf); err != nil {
		return err
	}
	if len(sf.APIKeys) == 0 {
		sf.APIKeys = nil
	}
	return s.write(sf)
}

func (s *SecretsStore) HasProviderAPIKey(provider string) (bool, error) {
	_, ok, err := s.GetProviderAPIKey(provider)
	return ok, err
}

func (s *SecretsStore) GetProviderAPIKey(provider string) (key string, ok bool, err error) {
	if provider, err = normalizeProvider(provider); err != nil {
		return "", false, err
	}
	err = s.view(func(sf *secretsFile) {
		key = strings.TrimSpace(sf.APIKeys[provider])
	})
	return key, key != "", err
}

func (s *SecretsStore) SetProviderAPIKey(provider string, apiKey string) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey == "" {
		return errors.New("missing api key")
	}
	return s.update(func(sf *secretsFile) error {
		if sf.APIKeys == nil {
			sf.APIKeys = map[string]string{}
		}
		sf.APIKeys[provider] = apiKey
		return nil
	})
}

func (s *SecretsStore) ClearProviderAPIKey(provider string) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	return s.update(func(sf *secretsFile) error {
		delete(sf.APIKeys, provider)
		return nil
	})
}

// GetProviderAPIKeySet reports which of providers have a stored key.
func (s *SecretsStore) GetProviderAPIKeySet(providers []string) (map[string]bool, error) {
	out := make(map[string]bool, len(providers))
	err := s.view(func(sf *secretsFile) {
		for _, p := range providers {
			if id := strings.ToLower(strings.TrimSpace(p)); id != "" {
				out[id] = strings.TrimSpace(sf.APIKeys[id]) != ""
			}
		}
	})
	return out, err
}

func (s *SecretsStore) GetGitHubToken() (token string, ok bool, err error) {
	err = s.view(func(sf *secretsFile) {
		token = strings.TrimSpace(sf.GitHubToken)
	})
	return token, token != "", err
}

// SetGitHubToken stores token; an empty token clears it.
func (s *SecretsStore) SetGitHubToken(token string) error {
	return s.update(func(sf *secretsFile) error {
		sf.GitHubToken = strings.TrimSpace(token)
		return nil
	})
}

// providerEnvKeys lists the environment fallbacks per provider type, in order.
var providerEnvKeys = map[string][]string{
	"anthropic":         {"ANTHROPIC_API_KEY"},
	"openai":            {"OPENAI_API_KEY"},
	"openai_compatible": {"OPENAI_COMPATIBLE_API_KEY", "OPENAI_API_KEY"},
}

func (s *SecretsStore) firstEnv(names ...string) string {
	for _, name := range names {
		if v, ok := s.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ResolveProviderAPIKey returns the stored key for provider, falling back to
// the provider's environment variables.
func (s *SecretsStore) ResolveProviderAPIKey(provider string) (string, error) {
	key, ok, err := s.GetProviderAPIKey(provider)
	if err != nil || ok {
		return key, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if v := s.firstEnv(providerEnvKeys[provider]...); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no api key for provider %q (set one with `reposcout secrets set %s` or %s)", provider, provider, strings.Join(providerEnvKeys[provider], "/"))
}

// ResolveGitHubToken returns the stored token, then GITHUB_TOKEN, then
// GH_TOKEN. An empty result means anonymous access.
func (s *SecretsStore) ResolveGitHubToken() (string, error) {
	token, ok, err := s.GetGitHubToken()
	if err != nil || ok {
		return token, err
	}
	return s.firstEnv("GITHUB_TOKEN", "GH_TOKEN"), nil
}

func (s *SecretsStore) read() (*secretsFile, error) {
	if s.path == "" || s.path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &secretsFile{Version: secretsVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if sf.Version == 0 {
		sf.Version = secretsVersion
	}
	return &sf, nil
}

func (s *SecretsStore) write(sf *secretsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
