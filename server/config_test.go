package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  public_url: "http://gw.example:8090"
  dev_mode: true
authdb:
  internal_url: "http://127.0.0.1:8000"
  anon_key: "anon"
  site_url: "http://10.1.1.11:3090"
  cookie_name: "sb-session"
idp:
  internal_url: "http://127.0.0.1:8029"
  emulator_url: "http://host.docker.internal:8029"
  public_base: "/idp"
  callback_path: "/auth/callback"
  registered_redirect_uri: "http://10.1.1.11:8090/authdb/auth/v1/callback"
directory:
  base_url: "http://127.0.0.1:8029"
  auth_mode: "none"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AuthDB.CookieName != "sb-session" {
		t.Fatalf("cookie name: got %q", cfg.AuthDB.CookieName)
	}
	if cfg.IdP.RegisteredRedirectURI != "http://10.1.1.11:8090/authdb/auth/v1/callback" {
		t.Fatalf("registered redirect: got %q", cfg.IdP.RegisteredRedirectURI)
	}
	if cfg.IdP.EmulatorURL != "http://host.docker.internal:8029" {
		t.Fatalf("emulator url: got %q", cfg.IdP.EmulatorURL)
	}
	if cfg.Directory.BaseURL != "http://127.0.0.1:8029" {
		t.Fatalf("directory base url: got %q", cfg.Directory.BaseURL)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  no_such_key: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTHGW_AUTHDB_COOKIE_NAME", "sb-other")
	t.Setenv("AUTHGW_DIRECTORY_BASE_URL", "http://dir.example")
	t.Setenv("AUTHGW_SERVER_DEV_MODE", "yes")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AuthDB.CookieName != "sb-other" {
		t.Fatalf("cookie name override missing: %q", cfg.AuthDB.CookieName)
	}
	if cfg.Directory.BaseURL != "http://dir.example" {
		t.Fatalf("directory override missing: %q", cfg.Directory.BaseURL)
	}
	if !cfg.Server.DevMode {
		t.Fatalf("dev mode override missing")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing_public_url",
			mutate:  func(c *Config) { c.Server.PublicURL = "" },
			wantErr: "public_url",
		},
		{
			name:    "bad_public_url_scheme",
			mutate:  func(c *Config) { c.Server.PublicURL = "gw.example" },
			wantErr: "public_url",
		},
		{
			name:    "missing_authdb_url",
			mutate:  func(c *Config) { c.AuthDB.InternalURL = "" },
			wantErr: "authdb.internal_url",
		},
		{
			name:    "missing_cookie_name",
			mutate:  func(c *Config) { c.AuthDB.CookieName = "" },
			wantErr: "cookie_name",
		},
		{
			name:    "relative_idp_base",
			mutate:  func(c *Config) { c.IdP.PublicBase = "idp" },
			wantErr: "public_base",
		},
		{
			name:    "bad_emulator_url",
			mutate:  func(c *Config) { c.IdP.EmulatorURL = "host.docker.internal:8029" },
			wantErr: "emulator_url",
		},
		{
			name:    "unknown_auth_mode",
			mutate:  func(c *Config) { c.Directory.AuthMode = "magic" },
			wantErr: "auth_mode",
		},
		{
			name: "client_credentials_missing_secret",
			mutate: func(c *Config) {
				c.Directory.AuthMode = DirectoryAuthClientCredentials
				c.Directory.TokenURL = "http://dir.example/token"
				c.Directory.ClientID = "id"
			},
			wantErr: "client_secret",
		},
		{
			name: "prod_without_tls_domains",
			mutate: func(c *Config) {
				c.Server.DevMode = false
				c.Server.TLS.Domains = nil
			},
			wantErr: "tls.domains",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
