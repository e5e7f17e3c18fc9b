package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field unset.
const (
	DefaultIndent         = 4
	DefaultManifestDir    = "manifest"
	DefaultManifestOutput = "manifest.json"
)

// DefaultBrowsers are the manifest scopes known without configuration.
var DefaultBrowsers = []string{"firefox", "chrome"}

// Config is the top-level jsonmerge configuration.
type Config struct {
	Indent   *int           `yaml:"indent,omitempty"`
	Manifest ManifestConfig `yaml:"manifest"`
	Audit    *AuditConfig   `yaml:"audit,omitempty"`
}

// ManifestConfig describes where build-manifest finds fragments and writes
// the merged manifest, relative to the source directory.
type ManifestConfig struct {
	Dir      string   `yaml:"dir,omitempty"`
	Output   string   `yaml:"output,omitempty"`
	Browsers []string `yaml:"browsers,omitempty"`
}

// AuditConfig controls the run history database.
type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DBPath    string `yaml:"db_path,omitempty"`
	Retention string `yaml:"retention,omitempty"` // e.g. "7d", "30d"
}

// EffectiveIndent returns the configured indent, defaulting to 4.
func (c Config) EffectiveIndent() int {
	if c.Indent == nil {
		return DefaultIndent
	}
	return *c.Indent
}

// EffectiveDir returns the fragment directory, defaulting to "manifest".
func (m ManifestConfig) EffectiveDir() string {
	if m.Dir == "" {
		return DefaultManifestDir
	}
	return m.Dir
}

// EffectiveOutput returns the output file name, defaulting to "manifest.json".
func (m ManifestConfig) EffectiveOutput() string {
	if m.Output == "" {
		return DefaultManifestOutput
	}
	return m.Output
}

// EffectiveBrowsers returns the known browser scopes.
func (m ManifestConfig) EffectiveBrowsers() []string {
	if len(m.Browsers) == 0 {
		return DefaultBrowsers
	}
	return m.Browsers
}

// RetentionDuration parses Retention. Zero means rotation is disabled.
func (a *AuditConfig) RetentionDuration() (time.Duration, error) {
	if a == nil || a.Retention == "" {
		return 0, nil
	}
	return ParseDuration(a.Retention)
}

// Validate checks values that YAML decoding alone cannot catch.
func (c Config) Validate() error {
	if c.Indent != nil && *c.Indent < 0 {
		return fmt.Errorf("config: indent must not be negative, got %d", *c.Indent)
	}
	if strings.ContainsAny(c.Manifest.Output, `/\`) {
		return fmt.Errorf("config: manifest.output must be a file name, got %q", c.Manifest.Output)
	}
	if _, err := c.Audit.RetentionDuration(); err != nil {
		return fmt.Errorf("config: audit.retention: %w", err)
	}
	return nil
}

// Load searches for the config file in standard locations and parses it.
// Search order: $JSONMERGE_CONFIG → $XDG_CONFIG_HOME/jsonmerge/config.yaml
// → ~/.config/jsonmerge/config.yaml.
// Returns zero-value Config if no file is found. Returns error if file exists
// but contains invalid YAML.
func Load() (Config, error) {
	path, err := findConfigPath()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return Config{}, nil
	}
	return LoadFrom(path)
}

// LoadFrom parses a config from the given file path.
// Returns error if the file cannot be read, contains invalid YAML or fails
// Validate.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w (in %s)", err, path)
	}

	return cfg, nil
}

// ParseDuration parses a duration string supporting "Nd" (days) and "Nh"
// (hours) in addition to Go's standard time.Duration formats.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid days %q: %w", numStr, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// findConfigPath returns the path to the first config file found,
// or empty string if none exists.
func findConfigPath() (string, error) {
	// 1. Explicit env var.
	if p := os.Getenv("JSONMERGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("config: $JSONMERGE_CONFIG points to %s which does not exist", p)
			}
			return "", fmt.Errorf("config: stat %s: %w", p, err)
		}
		return p, nil
	}

	// 2. XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "jsonmerge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// 3. Default ~/.config.
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil // Can't determine home, treat as no config.
	}
	p := filepath.Join(home, ".config", "jsonmerge", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	return "", nil
}
