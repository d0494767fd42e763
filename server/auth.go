package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is assumed when the access token carries no usable exp
// claim.
const defaultTokenTTL = 3600

// handleAuthorize starts the OAuth flow. It proxies to the auth service's
// authorize endpoint with redirects disabled, then rewrites the IdP
// emulator redirect so the browser can reach it through the public proxy
// path.
func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	origin := requestOrigin(r)

	params := r.URL.Query()
	params.Set("redirect_to", origin+a.Config.IdP.CallbackPath)

	target := a.authDBURL("/auth/v1/authorize") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, "invalid authorize request")
		return
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		a.Logger.Error("authorize upstream", "error", err)
		writeError(w, http.StatusBadGateway, "auth service unreachable")
		return
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		a.Logger.Error("authorize missing redirect", "status", resp.StatusCode)
		writeError(w, http.StatusBadGateway, "no redirect from auth service")
		return
	}

	rewritten, err := a.rewriteIdPRedirect(location, origin)
	if err != nil {
		a.Logger.Error("authorize redirect rewrite", "location", location, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("invalid redirect from auth service: %v", err))
		return
	}

	// The auth service's Set-Cookie holds the PKCE verifier; it must reach
	// the browser unchanged.
	for _, v := range resp.Header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", v)
	}
	w.Header().Set("Location", rewritten)
	w.WriteHeader(http.StatusFound)
}

// rewriteIdPRedirect maps a redirect aimed at the IdP's emulator origin onto
// the public proxy path, and overwrites redirect_uri with the exact value
// the IdP was registered with. The registered value is independent of the
// computed callback URL: the IdP rejects any token exchange whose
// redirect_uri differs from its registration.
func (a *App) rewriteIdPRedirect(location, origin string) (string, error) {
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if a.idpMatch == nil ||
		locURL.Scheme != a.idpMatch.Scheme || locURL.Host != a.idpMatch.Host {
		return location, nil
	}

	q := locURL.Query()
	q.Set("redirect_uri", a.registeredRedirectURI(origin))

	basePath := strings.TrimSuffix(a.Config.IdP.PublicBase, "/")
	return origin + basePath + locURL.Path + "?" + q.Encode(), nil
}

func (a *App) registeredRedirectURI(origin string) string {
	if a.Config.IdP.RegisteredRedirectURI != "" {
		return a.Config.IdP.RegisteredRedirectURI
	}
	return origin + "/authdb/auth/v1/callback"
}

// handleCallback terminates the browser leg of the OAuth flow. An IdP error
// redirects straight back to login. Otherwise the SPA export's own callback
// page wins when one was built (it runs the code exchange browser-side
// through the proxied auth service); without one the generated bootstrap
// page takes over, exchanging an authorization code here and inlining the
// session, or reading implicit-flow tokens from the hash fragment that only
// the browser can see.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	origin := requestOrigin(r)
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		v := url.Values{}
		v.Set("error", errCode)
		if desc := q.Get("error_description"); desc != "" {
			v.Set("error_description", desc)
		}
		http.Redirect(w, r, origin+"/login?"+v.Encode(), http.StatusFound)
		return
	}

	if a.Static != nil {
		if page, ok := a.Static.Resolve(r.URL.Path); ok {
			http.ServeFile(w, r, page)
			return
		}
	}

	if code := q.Get("code"); code != "" {
		session, upstreamBody, err := a.exchangeCode(r, code)
		if err != nil {
			a.Logger.Error("code exchange", "error", err)
			if len(upstreamBody) > 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write(upstreamBody)
				return
			}
			writeError(w, http.StatusBadGateway, "auth service unreachable")
			return
		}
		a.renderBootstrap(w, origin, session)
		return
	}

	a.renderBootstrap(w, origin, nil)
}

// exchangeCode swaps an authorization code for tokens at the auth service.
// The inbound Cookie header is forwarded so the auth service can locate the
// PKCE verifier it issued during authorize. On an upstream rejection the
// raw body is returned for diagnosis.
func (a *App) exchangeCode(r *http.Request, code string) (*Session, []byte, error) {
	body, err := json.Marshal(map[string]string{"auth_code": code})
	if err != nil {
		return nil, nil, err
	}

	target := a.authDBURL("/auth/v1/token") + "?grant_type=pkce"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Apikey", a.Config.AuthDB.AnonKey)
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, respBody, fmt.Errorf("token exchange rejected: status %d", resp.StatusCode)
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, nil, fmt.Errorf("parse token response: %w", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		return nil, nil, fmt.Errorf("token response missing tokens")
	}
	if session.TokenType == "" {
		session.TokenType = "bearer"
	}
	if session.ExpiresAt == 0 {
		session.ExpiresAt, session.ExpiresIn = tokenExpiry(session.AccessToken, time.Now())
	}
	return &session, nil, nil
}

// handleSession verifies a token pair with the auth service and returns the
// full session record. The cookie itself is written browser-side by the
// bootstrap script; keeping a single cookie-writing implementation is what
// guarantees the encoding never drifts from what the client library reads.
func (a *App) handleSession(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "access_token and refresh_token are required")
		return
	}

	user, status, err := a.fetchUser(r.Context(), req.AccessToken)
	if err != nil || status != http.StatusOK {
		a.Logger.Warn("session token verify failed", "status", status, "error", err)
		writeError(w, http.StatusBadRequest, "invalid tokens")
		return
	}

	session := buildSession(req.AccessToken, req.RefreshToken, user, time.Now())
	writeJSON(w, map[string]any{"ok": true, "session": session})
}

// handleSignout revokes the session upstream when possible and always
// clears the local cookie, chunks included. Revocation failure never blocks
// the clear.
func (a *App) handleSignout(w http.ResponseWriter, r *http.Request) {
	if session := a.Codec.Read(r); session != nil && session.AccessToken != "" {
		target := a.authDBURL("/auth/v1/logout")
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, nil)
		if err == nil {
			req.Header.Set("Apikey", a.Config.AuthDB.AnonKey)
			req.Header.Set("Authorization", "Bearer "+session.AccessToken)
			if resp, err := a.Client.Do(req); err != nil {
				a.Logger.Warn("signout revoke failed", "error", err)
			} else {
				resp.Body.Close()
			}
		}
	}

	a.Codec.Clear(w)
	writeJSON(w, map[string]any{"ok": true})
}

// handleSyncProfile copies directory attributes into the profile store.
// Every exit is 200 with a reason code: profile sync is best-effort and
// must never break login.
func (a *App) handleSyncProfile(w http.ResponseWriter, r *http.Request) {
	if !a.Directory.Configured() {
		writeSyncResult(w, "directory_not_configured")
		return
	}

	token := ""
	if session := a.Codec.Read(r); session != nil {
		token = session.AccessToken
	}
	if token == "" {
		token = extractBearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeSyncResult(w, "no_token")
		return
	}

	user, status, err := a.fetchUser(r.Context(), token)
	if err != nil || status != http.StatusOK {
		writeSyncResult(w, "user_fetch_failed")
		return
	}

	var ident struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(user, &ident); err != nil || ident.Email == "" {
		writeSyncResult(w, "no_email")
		return
	}

	dirUser, err := a.Directory.LookupUser(r.Context(), ident.Email)
	if err != nil {
		a.Logger.Warn("directory lookup failed", "error", err)
		writeSyncResult(w, "directory_unavailable")
		return
	}

	// Fire-and-forget: the upsert's business outcome is not inspected.
	if err := a.upsertProfile(r.Context(), token, map[string]any{
		"id":         ident.ID,
		"job_title":  dirUser.JobTitle,
		"department": dirUser.Department,
	}); err != nil {
		a.Logger.Warn("profile upsert failed", "error", err)
	}

	writeJSON(w, map[string]any{"ok": true})
}

// fetchUser asks the auth service who the token belongs to. The user object
// is passed through opaque.
func (a *App) fetchUser(ctx context.Context, accessToken string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authDBURL("/auth/v1/user"), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Apikey", a.Config.AuthDB.AnonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read user response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// buildSession assembles the cookie session from a verified token pair.
func buildSession(accessToken, refreshToken string, user json.RawMessage, now time.Time) *Session {
	expiresAt, expiresIn := tokenExpiry(accessToken, now)
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		ExpiresAt:    expiresAt,
		User:         user,
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token was already vouched for by the auth service. Unparseable tokens
// degrade to a default expiry rather than failing the flow.
func tokenExpiry(accessToken string, now time.Time) (expiresAt, expiresIn int64) {
	expiresAt = now.Unix() + defaultTokenTTL

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			expiresAt = exp.Unix()
		}
	}

	expiresIn = expiresAt - now.Unix()
	if expiresIn < 0 {
		expiresIn = 0
	}
	return expiresAt, expiresIn
}

func writeSyncResult(w http.ResponseWriter, reason string) {
	writeJSON(w, map[string]any{"ok": true, "reason": reason})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
