package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
repo:
  owner: "acme"
  name: "website"
  branch: "production"

auth:
  token_file: "/etc/ghsyncd/token"

paths:
  content_dir: "/srv/www"
  target_dir: "site"
  cache_dir: "/var/cache/ghsyncd"

sync:
  interval: "15m"
  ignore:
    - "*.md"
    - "docs/**"
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Repo.Owner != "acme" {
		t.Errorf("expected owner acme, got %s", cfg.Repo.Owner)
	}
	if cfg.Repo.Branch != "production" {
		t.Errorf("expected branch production, got %s", cfg.Repo.Branch)
	}
	if time.Duration(cfg.Sync.Interval) != 15*time.Minute {
		t.Errorf("expected interval 15m, got %v", time.Duration(cfg.Sync.Interval))
	}
	if len(cfg.Sync.Ignore) != 2 {
		t.Errorf("expected 2 ignore patterns, got %d", len(cfg.Sync.Ignore))
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()

	content := `
repo:
  owner: "acme"
  name: "website"
paths:
  content_dir: "/srv/www"
  target_dir: "site"
  cache_dir: "/var/cache/ghsyncd"
`
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Repo.Branch != DefaultBranch {
		t.Errorf("expected default branch %q, got %q", DefaultBranch, cfg.Repo.Branch)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("expected default API base URL, got %q", cfg.APIBaseURL)
	}
	if cfg.WebBaseURL != DefaultWebBaseURL {
		t.Errorf("expected default web base URL, got %q", cfg.WebBaseURL)
	}
	if cfg.HasCredential() {
		t.Error("expected no credential configured")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GHSYNCD_TEST_OWNER", "expanded-owner")

	tmpDir := t.TempDir()
	content := `
repo:
  owner: "$GHSYNCD_TEST_OWNER"
  name: "website"
paths:
  content_dir: "/srv/www"
  target_dir: "site"
  cache_dir: "/var/cache/ghsyncd"
`
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repo.Owner != "expanded-owner" {
		t.Errorf("expected env-expanded owner, got %q", cfg.Repo.Owner)
	}
}

func TestLoad_InvalidInterval(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
repo:
  owner: "acme"
  name: "website"
paths:
  content_dir: "/srv/www"
  target_dir: "site"
  cache_dir: "/var/cache/ghsyncd"
sync:
  interval: "not-a-duration"
`
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("expected error for invalid interval, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Repo: RepoConfig{
				Owner:  "acme",
				Name:   "website",
				Branch: "main",
			},
			Paths: PathsConfig{
				ContentDir: "/srv/www",
				TargetDir:  "site",
				CacheDir:   "/var/cache/ghsyncd",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "missing owner",
			mutate:  func(cfg *Config) { cfg.Repo.Owner = "" },
			wantErr: true,
		},
		{
			name:    "missing repo name",
			mutate:  func(cfg *Config) { cfg.Repo.Name = "" },
			wantErr: true,
		},
		{
			name:    "missing content dir",
			mutate:  func(cfg *Config) { cfg.Paths.ContentDir = "" },
			wantErr: true,
		},
		{
			name:    "relative content dir",
			mutate:  func(cfg *Config) { cfg.Paths.ContentDir = "srv/www" },
			wantErr: true,
		},
		{
			name:    "relative cache dir",
			mutate:  func(cfg *Config) { cfg.Paths.CacheDir = "cache" },
			wantErr: true,
		},
		{
			name:    "absolute target dir",
			mutate:  func(cfg *Config) { cfg.Paths.TargetDir = "/etc" },
			wantErr: true,
		},
		{
			name:    "target dir escapes content root",
			mutate:  func(cfg *Config) { cfg.Paths.TargetDir = "../outside" },
			wantErr: true,
		},
		{
			name: "both token sources set",
			mutate: func(cfg *Config) {
				cfg.Auth.Token = "tok"
				cfg.Auth.TokenFile = "/etc/token"
			},
			wantErr: true,
		},
		{
			name: "serve enabled without listen addr",
			mutate: func(cfg *Config) {
				cfg.Serve.Enabled = true
				cfg.Serve.GitHubWebhookSecretFile = "/etc/secret"
			},
			wantErr: true,
		},
		{
			name: "serve enabled without secret file",
			mutate: func(cfg *Config) {
				cfg.Serve.Enabled = true
				cfg.Serve.ListenAddr = ":8080"
			},
			wantErr: true,
		},
		{
			name: "serve enabled fully configured",
			mutate: func(cfg *Config) {
				cfg.Serve.Enabled = true
				cfg.Serve.ListenAddr = ":8080"
				cfg.Serve.GitHubWebhookSecretFile = "/etc/secret"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTargetPath(t *testing.T) {
	cfg := Config{
		Paths: PathsConfig{
			ContentDir: "/srv/www",
			TargetDir:  "site",
			CacheDir:   "/var/cache/ghsyncd",
		},
	}

	if got := cfg.TargetPath(); got != "/srv/www/site" {
		t.Errorf("TargetPath() = %s, want /srv/www/site", got)
	}
	if got := cfg.StateFilePath(); got != "/var/cache/ghsyncd/state.yaml" {
		t.Errorf("StateFilePath() = %s, want /var/cache/ghsyncd/state.yaml", got)
	}
}

func TestToken_Inline(t *testing.T) {
	cfg := Config{Auth: AuthConfig{Token: "inline-token"}}

	token, err := cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "inline-token" {
		t.Errorf("Token() = %q, want inline-token", token)
	}
	if !cfg.HasCredential() {
		t.Error("expected HasCredential to be true")
	}
}

func TestToken_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	tokenPath := filepath.Join(tmpDir, "token")
	if err := os.WriteFile(tokenPath, []byte("file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Auth: AuthConfig{TokenFile: tokenPath}}

	token, err := cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "file-token" {
		t.Errorf("Token() = %q, want file-token (trimmed)", token)
	}
}

func TestToken_MissingFile(t *testing.T) {
	cfg := Config{Auth: AuthConfig{TokenFile: filepath.Join(t.TempDir(), "nope")}}

	if _, err := cfg.Token(); err == nil {
		t.Fatal("expected error for missing token file, got nil")
	}
}

func TestToken_None(t *testing.T) {
	cfg := Config{}

	token, err := cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		t.Errorf("Token() = %q, want empty", token)
	}
	if cfg.HasCredential() {
		t.Error("expected HasCredential to be false")
	}
}
