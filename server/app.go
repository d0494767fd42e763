package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Client    *http.Client
	Profile   *http.Client
	Codec     *CookieCodec
	Directory *DirectoryClient
	Proxy     *Proxy
	Static    *StaticServer

	// idpMatch is the origin authorize redirects are matched against; it is
	// the emulator URL when configured, the proxy target otherwise.
	idpMatch *url.URL
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	client := NewUpstreamClient()
	profile := NewProfileClient()

	matchURL := cfg.IdP.EmulatorURL
	if matchURL == "" {
		matchURL = cfg.IdP.InternalURL
	}
	var idpMatch *url.URL
	if matchURL != "" {
		parsed, err := url.Parse(matchURL)
		if err != nil {
			return nil, fmt.Errorf("parse idp url: %w", err)
		}
		idpMatch = parsed
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Client:    client,
		Profile:   profile,
		Codec:     NewCookieCodec(cfg.AuthDB.CookieName),
		Directory: NewDirectoryClient(cfg.Directory, profile, logger),
		Proxy:     NewProxy(cfg, client, logger),
		Static:    NewStaticServer(cfg.Server.StaticDir, logger),
		idpMatch:  idpMatch,
	}

	logger.Info("gateway configured",
		"authdb", cfg.AuthDB.InternalURL,
		"idp", cfg.IdP.InternalURL,
		"idp_public_base", cfg.IdP.PublicBase,
		"cookie", cfg.AuthDB.CookieName,
		"directory", cfg.Directory.BaseURL != "",
	)

	return app, nil
}

func (a *App) authDBURL(path string) string {
	return strings.TrimSuffix(a.Config.AuthDB.InternalURL, "/") + path
}
