package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix scopes environment overrides.
	EnvPrefix = "REPOSCOUT_"
)

var sections = map[string]struct{}{"ai": {}, "github": {}, "limits": {}, "stream": {}, "server": {}}

// Load reads the YAML file at path, then applies REPOSCOUT_* environment
// overrides, then defaults, then validates.
//
// Precedence (highest to lowest):
//  1. Environment variables (REPOSCOUT_AI_MODEL, REPOSCOUT_LOG_LEVEL, ...)
//  2. YAML config file
//  3. Defaults
//
// An empty path reads DefaultConfigPath() and tolerates its absence; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps REPOSCOUT_AI_MAX_ITERATIONS to ai.max_iterations and
// REPOSCOUT_LOG_LEVEL to log_level: the first segment is a section only when
// it names one.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	if _, isSection := sections[section]; isSection {
		return section + "." + field
	}
	return lower
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(f)
}
