package server

import (
	"encoding/json"
	"html/template"
	"net/http"
)

// bootstrapData feeds the callback bootstrap page. The cookie constants
// come straight from the codec so the browser-side writer stays
// bit-compatible with server-side reads.
type bootstrapData struct {
	HomeURL        string
	LoginURL       string
	SessionURL     string
	SyncProfileURL string
	CookieName     string
	CookiePrefix   string
	ChunkSize      int
	MaxChunks      int
	SessionJSON    template.JS
}

// renderBootstrap serves the page that finishes the login in the browser:
// it reads hash-fragment tokens when none were passed inline, exchanges
// bare tokens for a full session, writes the session cookie, fires the
// best-effort profile sync, and navigates home. Any failure navigates to
// login instead of leaving the browser half-authenticated.
func (a *App) renderBootstrap(w http.ResponseWriter, origin string, session *Session) {
	sessionJSON := "null"
	if session != nil {
		if b, err := json.Marshal(session); err == nil {
			sessionJSON = string(b)
		}
	}

	data := bootstrapData{
		HomeURL:        origin + "/",
		LoginURL:       origin + "/login",
		SessionURL:     origin + "/auth/session",
		SyncProfileURL: origin + "/auth/sync-profile",
		CookieName:     a.Codec.Name,
		CookiePrefix:   cookieBase64Prefix,
		ChunkSize:      cookieChunkSize,
		MaxChunks:      cookieMaxChunks,
		SessionJSON:    template.JS(sessionJSON),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := bootstrapTemplate.Execute(w, data); err != nil {
		a.Logger.Error("bootstrap render", "error", err)
	}
}

var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Authenticating…</title>
</head>
<body>
  <p>Authenticating…</p>
  <script>
    (function() {
      var homeUrl = "{{.HomeURL}}";
      var loginUrl = "{{.LoginURL}}";
      var sessionUrl = "{{.SessionURL}}";
      var syncProfileUrl = "{{.SyncProfileURL}}";
      var cookieName = "{{.CookieName}}";
      var cookiePrefix = "{{.CookiePrefix}}";
      var maxChunk = {{.ChunkSize}};
      var maxChunks = {{.MaxChunks}};
      var tokens = {{.SessionJSON}};

      // UTF-8 encode then base64url without padding, matching the server
      // codec and the client library byte for byte.
      function toBase64URL(str) {
        var utf8 = unescape(encodeURIComponent(str));
        var b64 = btoa(utf8);
        return b64.replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
      }

      function setAuthCookie(session) {
        var encoded = cookiePrefix + toBase64URL(JSON.stringify(session));

        // Clear stale base and chunk cookies before writing.
        var expires = "expires=Thu, 01 Jan 1970 00:00:00 GMT";
        document.cookie = cookieName + "=; path=/; " + expires;
        for (var i = 0; i < maxChunks; i++) {
          document.cookie = cookieName + "." + i + "=; path=/; " + expires;
        }

        if (encoded.length <= maxChunk) {
          document.cookie = cookieName + "=" + encoded + "; path=/; samesite=lax";
        } else {
          for (var idx = 0; idx * maxChunk < encoded.length; idx++) {
            var chunk = encoded.substring(idx * maxChunk, (idx + 1) * maxChunk);
            document.cookie = cookieName + "." + idx + "=" + chunk + "; path=/; samesite=lax";
          }
        }
      }

      // No inline tokens: implicit flow put them in the hash fragment,
      // which only the browser can see.
      if (!tokens) {
        var hash = window.location.hash.substring(1);
        if (hash) {
          var params = new URLSearchParams(hash);
          var at = params.get("access_token");
          var rt = params.get("refresh_token");
          if (at && rt) {
            tokens = { access_token: at, refresh_token: rt };
          }
        }
      }

      if (!tokens || !tokens.access_token || !tokens.refresh_token) {
        window.location.replace(loginUrl);
        return;
      }

      if (tokens.user && tokens.expires_at) {
        // Full session available: write the cookie and go home.
        setAuthCookie(tokens);
        fetch(syncProfileUrl, { method: "POST", credentials: "include" })
          .finally(function() {
            window.location.replace(homeUrl);
          });
      } else {
        // Bare tokens: have the server verify them and build the session.
        fetch(sessionUrl, {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          credentials: "include",
          body: JSON.stringify({
            access_token: tokens.access_token,
            refresh_token: tokens.refresh_token
          })
        })
          .then(function(res) {
            if (!res.ok) throw new Error("session exchange failed: " + res.status);
            return res.json();
          })
          .then(function(data) {
            if (data.session) {
              setAuthCookie(data.session);
            }
            return fetch(syncProfileUrl, { method: "POST", credentials: "include" });
          })
          .then(function() {
            window.location.replace(homeUrl);
          })
          .catch(function() {
            window.location.replace(loginUrl);
          });
      }
    })();
  </script>
</body>
</html>
`))
