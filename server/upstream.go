package server

import (
	"net/http"
	"strings"
	"time"
)

const (
	proxyTimeout   = 30 * time.Second
	profileTimeout = 5 * time.Second
)

// forwardedRequestHeaders is the allow-list of browser request headers
// copied to upstream calls.
var forwardedRequestHeaders = []string{
	"Cookie",
	"Content-Type",
	"Accept",
	"Authorization",
	"Apikey",
	"Prefer",
	"X-Client-Info",
	"Range",
}

// strippedResponseHeaders are hop-by-hop and framing headers that must not
// be copied across a different transport. Set-Cookie is handled separately
// so each instance is appended individually.
var strippedResponseHeaders = map[string]struct{}{
	"Transfer-Encoding": {},
	"Content-Encoding":  {},
	"Content-Length":    {},
	"Connection":        {},
}

// NewUpstreamClient builds the shared outbound client used for all proxy
// and auth-bridge calls. Redirects are never auto-followed: the bridge must
// inspect and rewrite Location headers itself. The client is created once
// at startup and handed to every component needing outbound calls; the
// pooled transport is safe for concurrent use.
func NewUpstreamClient() *http.Client {
	return &http.Client{
		Timeout: proxyTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewProfileClient builds the short-timeout client used for directory and
// profile-store calls, which are best-effort and must fail fast.
func NewProfileClient() *http.Client {
	return &http.Client{
		Timeout: profileTimeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    20,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// filterRequestHeaders selects the allow-listed headers to forward.
func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(forwardedRequestHeaders))
	for _, name := range forwardedRequestHeaders {
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
	return dst
}

// copyResponseHeaders copies upstream response headers to the writer,
// dropping the deny-listed framing headers and appending each Set-Cookie
// instance as its own header value.
func copyResponseHeaders(w http.ResponseWriter, src http.Header) {
	for name, values := range src {
		canonical := http.CanonicalHeaderKey(name)
		if _, drop := strippedResponseHeaders[canonical]; drop {
			continue
		}
		if canonical == "Set-Cookie" {
			continue
		}
		for _, v := range values {
			w.Header().Add(canonical, v)
		}
	}
	for _, v := range src.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", v)
	}
}

// requestOrigin reconstructs the externally visible origin of the request.
// Forwarded headers win because the visible origin varies by deployment:
// the gateway commonly sits behind another proxy or a port mapping.
func requestOrigin(r *http.Request) string {
	host := firstForwarded(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	proto := firstForwarded(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		if r.TLS != nil {
			proto = "https"
		} else {
			proto = "http"
		}
	}
	return proto + "://" + host
}

func firstForwarded(v string) string {
	if idx := strings.Index(v, ","); idx != -1 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}
