package server

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Proxy forwards browser requests to the three upstream bases. Requests are
// passed through byte-for-byte apart from header filtering; responses keep
// their status and body. Only the auth service's redirects are rewritten.
type Proxy struct {
	client  *http.Client
	logger  *slog.Logger
	authDB  string
	idp     string
	siteURL string
}

// NewProxy builds the proxy from configuration and the shared client.
func NewProxy(cfg Config, client *http.Client, logger *slog.Logger) *Proxy {
	return &Proxy{
		client:  client,
		logger:  logger,
		authDB:  strings.TrimSuffix(cfg.AuthDB.InternalURL, "/"),
		idp:     strings.TrimSuffix(cfg.IdP.InternalURL, "/"),
		siteURL: strings.TrimSuffix(cfg.AuthDB.SiteURL, "/"),
	}
}

func (p *Proxy) handleAuthDB(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, p.authDB, "/authdb", true)
}

func (p *Proxy) handleIdP(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, p.idp, "/idp", false)
}

// The discovery path lives under /common on the emulator itself.
func (p *Proxy) handleIdPCommon(w http.ResponseWriter, r *http.Request) {
	p.forward(w, r, p.idp+"/common", "/idp-common", false)
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, base, prefix string, rewriteRedirect bool) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == "" {
		path = "/"
	}
	target := base + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		p.logger.Error("proxy build request", "target", target, "error", err)
		writeError(w, http.StatusBadGateway, "invalid upstream request")
		return
	}
	req.Header = filterRequestHeaders(r.Header)

	// No retry: replaying a non-idempotent write upstream is worse than
	// surfacing the failure.
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("proxy upstream", "method", r.Method, "target", target, "error", err)
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if rewriteRedirect && isRedirect(resp.StatusCode) {
		if location := resp.Header.Get("Location"); location != "" {
			if rewritten, ok := p.rewriteSiteRedirect(location, requestOrigin(r)); ok {
				resp.Header.Set("Location", rewritten)
				p.logger.Debug("rewrote auth redirect", "location", rewritten)
			}
		}
	}

	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("proxy body copy", "target", target, "error", err)
	}
}

// rewriteSiteRedirect substitutes the auth service's configured site URL
// with the origin the browser actually used, preserving path and query.
func (p *Proxy) rewriteSiteRedirect(location, origin string) (string, bool) {
	if p.siteURL == "" || !strings.HasPrefix(location, p.siteURL) {
		return location, false
	}
	return origin + location[len(p.siteURL):], true
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
