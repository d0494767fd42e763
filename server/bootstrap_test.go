package server

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

// jsString renders a URL the way the template's JS-string context does:
// html/template escapes forward slashes inside script strings.
func jsString(s string) string {
	return `"` + strings.ReplaceAll(s, "/", `\/`) + `"`
}

func TestBootstrapWithInlineSession(t *testing.T) {
	app := newTestApp(t, nil)
	session := testSession(`{"id":"u1","email":"u1@example.com"}`)

	rec := httptest.NewRecorder()
	app.renderBootstrap(rec, "https://gw.public", session)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type: got %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("bootstrap page must not be cached")
	}

	body := rec.Body.String()
	for _, want := range []string{
		jsString("https://gw.public/"),
		jsString("https://gw.public/login"),
		jsString("https://gw.public/auth/session"),
		jsString("https://gw.public/auth/sync-profile"),
		`"sb-auth-token"`,
		`"` + cookieBase64Prefix + `"`,
		session.AccessToken,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("bootstrap page missing %s", want)
		}
	}
}

func TestBootstrapWithoutSessionEmbedsNull(t *testing.T) {
	app := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	app.renderBootstrap(rec, "http://gw.test", nil)

	if !strings.Contains(rec.Body.String(), "var tokens = null;") {
		t.Fatalf("expected null tokens for hash-fragment fallback")
	}
}

func TestBootstrapSessionSurvivesTemplateEncoding(t *testing.T) {
	app := newTestApp(t, nil)
	session := testSession(`{"id":"u1","name":"Jane \"JD\" Doe <script>"}`)

	rec := httptest.NewRecorder()
	app.renderBootstrap(rec, "http://gw.test", session)

	body := rec.Body.String()
	start := strings.Index(body, "var tokens = ")
	if start < 0 {
		t.Fatalf("tokens assignment not found")
	}
	line := body[start+len("var tokens = "):]
	line = line[:strings.Index(line, ";\n")]

	var got Session
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("embedded session is not valid JSON: %v\n%s", err, line)
	}
	if got.AccessToken != session.AccessToken {
		t.Fatalf("access token mangled: %q", got.AccessToken)
	}
}

func TestBootstrapCookieConstantsMatchCodec(t *testing.T) {
	app := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	app.renderBootstrap(rec, "http://gw.test", nil)

	// Interpolated numbers come out space-padded in a JS context, so match
	// the value rather than exact spacing.
	body := rec.Body.String()
	chunkSize := regexp.MustCompile(fmt.Sprintf(`var maxChunk =\s*%d\s*;`, cookieChunkSize))
	if !chunkSize.MatchString(body) {
		t.Fatalf("chunk size not embedded: %s", body)
	}
	chunkCount := regexp.MustCompile(fmt.Sprintf(`var maxChunks =\s*%d\s*;`, cookieMaxChunks))
	if !chunkCount.MatchString(body) {
		t.Fatalf("chunk count not embedded")
	}
}
