package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router: the three upstream proxies, the auth
// bridge endpoints, and the static SPA fallback.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware(a.Config.Server.CORS))
	r.Use(RateLimitMiddleware(NewIPRateLimiter(10, 50), a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(31536000))
	}

	r.HandleFunc("/authdb/*", a.Proxy.handleAuthDB)
	r.HandleFunc("/idp/*", a.Proxy.handleIdP)
	r.HandleFunc("/idp-common/*", a.Proxy.handleIdPCommon)

	r.Get("/auth/authorize", a.handleAuthorize)
	r.Get("/auth/callback", a.handleCallback)
	r.Post("/auth/session", a.handleSession)
	r.Post("/auth/signout", a.handleSignout)
	r.Post("/auth/sync-profile", a.handleSyncProfile)

	if a.Static != nil {
		r.NotFound(a.Static.ServeHTTP)
	}

	return r
}
