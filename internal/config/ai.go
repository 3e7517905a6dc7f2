package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/floegence/reposcout/internal/ai"
)

// AIConfig selects the model provider and the session defaults.
//
// Notes:
//   - Secrets (api keys) must never be stored in this config. Keys are managed via a separate local secrets file.
//   - Field names are snake_case to match the rest of the config surface.
type AIConfig struct {
	// Provider is one of: "anthropic" | "openai" | "openai_compatible".
	Provider string `koanf:"provider"`

	// BaseURL overrides the provider endpoint (example: "https://api.openai.com/v1").
	// When empty, provider defaults apply (except openai_compatible where base_url is required).
	BaseURL string `koanf:"base_url"`

	Model           string   `koanf:"model"`
	MaxOutputTokens int      `koanf:"max_output_tokens"`
	MaxIterations   int      `koanf:"max_iterations"`
	Temperature     *float64 `koanf:"temperature"`
}

const maxIterationsCap = 200

func (c *AIConfig) applyDefaults() {
	if strings.TrimSpace(c.Provider) == "" {
		c.Provider = ai.ProviderAnthropic
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = ai.DefaultModel
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = ai.DefaultMaxOutputTokens
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = ai.DefaultMaxIterations
	}
	if c.Temperature == nil {
		t := ai.DefaultTemperature
		c.Temperature = &t
	}
}

func (c *AIConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	t := strings.ToLower(strings.TrimSpace(c.Provider))
	switch t {
	case ai.ProviderAnthropic, ai.ProviderOpenAI, ai.ProviderOpenAICompatible:
	default:
		return fmt.Errorf("invalid provider %q", c.Provider)
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if t == ai.ProviderOpenAICompatible && baseURL == "" {
		return errors.New("base_url is required for openai_compatible")
	}
	if baseURL != "" {
		if err := validateHTTPURL(baseURL); err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
	}
	if strings.Contains(strings.TrimSpace(c.Model), " ") {
		return fmt.Errorf("invalid model %q", c.Model)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("invalid max_output_tokens %d", c.MaxOutputTokens)
	}
	if c.MaxIterations < 0 || c.MaxIterations > maxIterationsCap {
		return fmt.Errorf("invalid max_iterations %d (must be in [1,%d])", c.MaxIterations, maxIterationsCap)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("invalid temperature %v (must be in [0,2])", *c.Temperature)
	}
	return nil
}

// SessionDefaults returns the orchestrator defaults this config describes.
func (c *AIConfig) SessionDefaults() ai.SessionConfig {
	out := ai.SessionConfig{
		Model:           strings.TrimSpace(c.Model),
		MaxOutputTokens: c.MaxOutputTokens,
		MaxIterations:   c.MaxIterations,
	}
	if c.Temperature != nil {
		t := *c.Temperature
		out.Temperature = &t
	}
	return out
}

// ProviderConfig returns the provider selection for apiKey.
func (c *AIConfig) ProviderConfig(apiKey string) ai.ProviderConfig {
	return ai.ProviderConfig{
		Type:    strings.ToLower(strings.TrimSpace(c.Provider)),
		BaseURL: strings.TrimSpace(c.BaseURL),
		APIKey:  apiKey,
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}
