package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoint hosts. Overridable for GitHub Enterprise installations.
const (
	DefaultAPIBaseURL = "https://api.github.com"
	DefaultWebBaseURL = "https://github.com"
)

// DefaultBranch is used when repo.branch is not set.
const DefaultBranch = "main"

// Duration wraps time.Duration so config values can be written as "15m" or "1h".
type Duration time.Duration

// UnmarshalYAML parses a duration string like "300s" or "1h".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the complete ghsyncd configuration
type Config struct {
	Repo  RepoConfig  `yaml:"repo"`
	Auth  AuthConfig  `yaml:"auth"`
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Serve ServeConfig `yaml:"serve"`

	APIBaseURL string `yaml:"api_base_url"`
	WebBaseURL string `yaml:"web_base_url"`
}

// RepoConfig identifies the GitHub repository branch to mirror
type RepoConfig struct {
	Owner  string `yaml:"owner"`
	Name   string `yaml:"name"`
	Branch string `yaml:"branch"`
}

// AuthConfig configures the optional API token. Token and TokenFile are
// mutually exclusive; TokenFile follows the secret-in-file convention so the
// token never has to live in the config document itself.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	ContentDir string `yaml:"content_dir"`
	TargetDir  string `yaml:"target_dir"`
	CacheDir   string `yaml:"cache_dir"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Interval Duration `yaml:"interval"`
	Ignore   []string `yaml:"ignore"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.Owner = os.ExpandEnv(c.Repo.Owner)
	c.Repo.Name = os.ExpandEnv(c.Repo.Name)
	c.Repo.Branch = os.ExpandEnv(c.Repo.Branch)
	c.Auth.Token = os.ExpandEnv(c.Auth.Token)
	c.Auth.TokenFile = os.ExpandEnv(c.Auth.TokenFile)
	c.Paths.ContentDir = os.ExpandEnv(c.Paths.ContentDir)
	c.Paths.TargetDir = os.ExpandEnv(c.Paths.TargetDir)
	c.Paths.CacheDir = os.ExpandEnv(c.Paths.CacheDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
	c.APIBaseURL = os.ExpandEnv(c.APIBaseURL)
	c.WebBaseURL = os.ExpandEnv(c.WebBaseURL)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.Branch == "" {
		c.Repo.Branch = DefaultBranch
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.WebBaseURL == "" {
		c.WebBaseURL = DefaultWebBaseURL
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate repo config
	if c.Repo.Owner == "" {
		return fmt.Errorf("repo.owner is required")
	}
	if c.Repo.Name == "" {
		return fmt.Errorf("repo.name is required")
	}

	// Validate paths
	if c.Paths.ContentDir == "" {
		return fmt.Errorf("paths.content_dir is required")
	}
	if c.Paths.TargetDir == "" {
		return fmt.Errorf("paths.target_dir is required")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("paths.cache_dir is required")
	}

	// Content and cache roots are absolute; the target resolves inside the
	// content root and must not escape it.
	if !filepath.IsAbs(c.Paths.ContentDir) {
		return fmt.Errorf("paths.content_dir must be an absolute path: %s", c.Paths.ContentDir)
	}
	if !filepath.IsAbs(c.Paths.CacheDir) {
		return fmt.Errorf("paths.cache_dir must be an absolute path: %s", c.Paths.CacheDir)
	}
	if !filepath.IsLocal(c.Paths.TargetDir) {
		return fmt.Errorf("paths.target_dir must be a relative path inside content_dir: %s", c.Paths.TargetDir)
	}

	// Validate auth: only one token source may be configured
	if c.Auth.Token != "" && c.Auth.TokenFile != "" {
		return fmt.Errorf("auth: only one of token or token_file may be set")
	}

	// Validate sync interval if set
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// TargetPath returns the absolute destination directory
func (c *Config) TargetPath() string {
	return filepath.Join(c.Paths.ContentDir, c.Paths.TargetDir)
}

// StateFilePath returns the path to the sync state file
func (c *Config) StateFilePath() string {
	return filepath.Join(c.Paths.CacheDir, "state.yaml")
}

// Token resolves the configured API token, reading the token file if one is
// configured. Returns the empty string when no credential is configured.
func (c *Config) Token() (string, error) {
	if c.Auth.Token != "" {
		return c.Auth.Token, nil
	}
	if c.Auth.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HasCredential returns true if an API token is configured. Presence changes
// the default sync interval because unauthenticated API calls hit stricter
// rate limits.
func (c *Config) HasCredential() bool {
	return c.Auth.Token != "" || c.Auth.TokenFile != ""
}
