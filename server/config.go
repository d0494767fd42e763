package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hardcoded CORS defaults
var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type", "Apikey", "X-Client-Info"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"}
)

// Directory auth modes.
const (
	DirectoryAuthNone              = "none"
	DirectoryAuthClientCredentials = "client_credentials"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AuthDB    AuthDBConfig    `yaml:"authdb"`
	IdP       IdPConfig       `yaml:"idp"`
	Directory DirectoryConfig `yaml:"directory"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string     `yaml:"public_url"`
	DevListenAddr   string     `yaml:"dev_listen_addr"`
	HTTPListenAddr  string     `yaml:"http_listen_addr"`
	HTTPSListenAddr string     `yaml:"https_listen_addr"`
	DevMode         bool       `yaml:"dev_mode"`
	StaticDir       string     `yaml:"static_dir"`
	TLS             TLSConfig  `yaml:"tls"`
	CORS            CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour for production listeners.
type TLSConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
}

// CORSConfig lists origins allowed to call the auth endpoints directly.
type CORSConfig struct {
	ClientOriginURLs []string `yaml:"client_origin_urls"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
}

// AuthDBConfig points at the self-hosted auth/database service.
type AuthDBConfig struct {
	InternalURL string `yaml:"internal_url"`
	AnonKey     string `yaml:"anon_key"`
	// SiteURL is the origin the auth service was configured to redirect to.
	// Redirects starting with it are rewritten to the request origin.
	SiteURL    string `yaml:"site_url"`
	CookieName string `yaml:"cookie_name"`
}

// IdPConfig points at the identity-provider emulator and describes how its
// redirects are rewritten onto the public proxy path.
type IdPConfig struct {
	InternalURL string `yaml:"internal_url"`
	// EmulatorURL is the origin the auth service believes the IdP lives at,
	// which appears in its authorize redirects. Inside a container that is
	// often a different host (host.docker.internal) than the proxy target.
	// Empty means same as InternalURL.
	EmulatorURL string `yaml:"emulator_url"`
	PublicBase  string `yaml:"public_base"`
	// CallbackPath is appended to the request origin to form the
	// redirect_to value passed to the auth service.
	CallbackPath string `yaml:"callback_path"`
	// RegisteredRedirectURI must match what the IdP was configured with,
	// exactly. It is allowed to differ from the computed callback URL.
	RegisteredRedirectURI string `yaml:"registered_redirect_uri"`
}

// DirectoryConfig points at the directory service used for profile sync.
// An empty base URL disables the sync entirely.
type DirectoryConfig struct {
	BaseURL      string `yaml:"base_url"`
	AuthMode     string `yaml:"auth_mode"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8090",
			DevListenAddr:   "127.0.0.1:8090",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			StaticDir:       "static",
			CORS: CORSConfig{
				AllowedMethods: DefaultCORSAllowedMethods,
				AllowedHeaders: DefaultCORSAllowedHeaders,
			},
		},
		AuthDB: AuthDBConfig{
			InternalURL: "http://127.0.0.1:8000",
			CookieName:  "sb-auth-token",
		},
		IdP: IdPConfig{
			InternalURL:  "http://127.0.0.1:8029",
			PublicBase:   "/idp",
			CallbackPath: "/auth/callback",
		},
		Directory: DirectoryConfig{
			AuthMode: DirectoryAuthNone,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHGW_SERVER_PUBLIC_URL":          func(v string) { cfg.Server.PublicURL = v },
		"AUTHGW_SERVER_DEV_LISTEN_ADDR":     func(v string) { cfg.Server.DevListenAddr = v },
		"AUTHGW_SERVER_HTTP_LISTEN_ADDR":    func(v string) { cfg.Server.HTTPListenAddr = v },
		"AUTHGW_SERVER_HTTPS_LISTEN_ADDR":   func(v string) { cfg.Server.HTTPSListenAddr = v },
		"AUTHGW_SERVER_DEV_MODE":            func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHGW_SERVER_STATIC_DIR":          func(v string) { cfg.Server.StaticDir = v },
		"AUTHGW_SERVER_TLS_DOMAINS":         func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"AUTHGW_SERVER_TLS_EMAIL":           func(v string) { cfg.Server.TLS.Email = v },
		"AUTHGW_SERVER_CORS_ORIGINS":        func(v string) { cfg.Server.CORS.ClientOriginURLs = splitAndTrim(v) },
		"AUTHGW_AUTHDB_INTERNAL_URL":        func(v string) { cfg.AuthDB.InternalURL = v },
		"AUTHGW_AUTHDB_ANON_KEY":            func(v string) { cfg.AuthDB.AnonKey = v },
		"AUTHGW_AUTHDB_SITE_URL":            func(v string) { cfg.AuthDB.SiteURL = v },
		"AUTHGW_AUTHDB_COOKIE_NAME":         func(v string) { cfg.AuthDB.CookieName = v },
		"AUTHGW_IDP_INTERNAL_URL":           func(v string) { cfg.IdP.InternalURL = v },
		"AUTHGW_IDP_EMULATOR_URL":           func(v string) { cfg.IdP.EmulatorURL = v },
		"AUTHGW_IDP_PUBLIC_BASE":            func(v string) { cfg.IdP.PublicBase = v },
		"AUTHGW_IDP_CALLBACK_PATH":          func(v string) { cfg.IdP.CallbackPath = v },
		"AUTHGW_IDP_REGISTERED_REDIRECT":    func(v string) { cfg.IdP.RegisteredRedirectURI = v },
		"AUTHGW_DIRECTORY_BASE_URL":         func(v string) { cfg.Directory.BaseURL = v },
		"AUTHGW_DIRECTORY_AUTH_MODE":        func(v string) { cfg.Directory.AuthMode = v },
		"AUTHGW_DIRECTORY_TOKEN_URL":        func(v string) { cfg.Directory.TokenURL = v },
		"AUTHGW_DIRECTORY_CLIENT_ID":        func(v string) { cfg.Directory.ClientID = v },
		"AUTHGW_DIRECTORY_CLIENT_SECRET":    func(v string) { cfg.Directory.ClientSecret = v },
		"AUTHGW_DIRECTORY_SCOPE":            func(v string) { cfg.Directory.Scope = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.AuthDB.InternalURL == "" {
		return errors.New("authdb.internal_url is required")
	}
	if !isHTTPURL(c.AuthDB.InternalURL) {
		return fmt.Errorf("authdb.internal_url must start with http:// or https://, got: %s", c.AuthDB.InternalURL)
	}
	if c.AuthDB.SiteURL != "" && !isHTTPURL(c.AuthDB.SiteURL) {
		return fmt.Errorf("authdb.site_url must start with http:// or https://, got: %s", c.AuthDB.SiteURL)
	}
	if c.AuthDB.CookieName == "" {
		return errors.New("authdb.cookie_name is required")
	}

	if c.IdP.InternalURL != "" && !isHTTPURL(c.IdP.InternalURL) {
		return fmt.Errorf("idp.internal_url must start with http:// or https://, got: %s", c.IdP.InternalURL)
	}
	if c.IdP.EmulatorURL != "" && !isHTTPURL(c.IdP.EmulatorURL) {
		return fmt.Errorf("idp.emulator_url must start with http:// or https://, got: %s", c.IdP.EmulatorURL)
	}
	if !strings.HasPrefix(c.IdP.PublicBase, "/") {
		return fmt.Errorf("idp.public_base must start with /, got: %s", c.IdP.PublicBase)
	}
	if !strings.HasPrefix(c.IdP.CallbackPath, "/") {
		return fmt.Errorf("idp.callback_path must start with /, got: %s", c.IdP.CallbackPath)
	}

	switch c.Directory.AuthMode {
	case DirectoryAuthNone:
	case DirectoryAuthClientCredentials:
		if c.Directory.TokenURL == "" || c.Directory.ClientID == "" || c.Directory.ClientSecret == "" {
			return errors.New("directory.token_url, directory.client_id and directory.client_secret are required for client_credentials auth")
		}
	default:
		return fmt.Errorf("directory.auth_mode must be %q or %q, got: %s",
			DirectoryAuthNone, DirectoryAuthClientCredentials, c.Directory.AuthMode)
	}
	if c.Directory.BaseURL != "" && !isHTTPURL(c.Directory.BaseURL) {
		return fmt.Errorf("directory.base_url must start with http:// or https://, got: %s", c.Directory.BaseURL)
	}

	return nil
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}
