package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testSession(user string) *Session {
	return &Session{
		AccessToken:  "access-token-value",
		RefreshToken: "refresh-token-value",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    1700003600,
		User:         json.RawMessage(user),
	}
}

func sessionsEqual(t *testing.T, got, want *Session) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected session, got nil")
	}
	if got.AccessToken != want.AccessToken ||
		got.RefreshToken != want.RefreshToken ||
		got.TokenType != want.TokenType ||
		got.ExpiresIn != want.ExpiresIn ||
		got.ExpiresAt != want.ExpiresAt {
		t.Fatalf("session mismatch: got %+v want %+v", got, want)
	}
	if !bytes.Equal(got.User, want.User) {
		t.Fatalf("user mismatch: got %s want %s", got.User, want.User)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	want := testSession(`{"id":"u1","email":"u1@example.com"}`)

	encoded, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(encoded, cookieBase64Prefix) {
		t.Fatalf("encoded value missing %q prefix: %q", cookieBase64Prefix, encoded)
	}
	if strings.Contains(encoded, "=") {
		t.Fatalf("encoded value must not contain padding: %q", encoded)
	}

	sessionsEqual(t, codec.Decode(encoded), want)
}

func TestDecodeAllFormatsAgree(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	want := testSession(`{"id":"u1"}`)

	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	base64Form, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"base64url_prefixed", base64Form},
		{"raw_json", string(raw)},
		{"percent_encoded", url.QueryEscape(string(raw))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionsEqual(t, codec.Decode(tt.raw), want)
		})
	}
}

func TestDecodeGarbageReturnsNil(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")

	tests := []string{
		"",
		"not json at all",
		"base64-!!!not-base64!!!",
		"base64-" + "YWJjZA", // decodes to "abcd", not JSON
		"%zz%zz",
	}
	for _, raw := range tests {
		if s := codec.Decode(raw); s != nil {
			t.Fatalf("Decode(%q) = %+v, want nil", raw, s)
		}
	}
}

func TestWriteSingleCookieClearsStaleChunks(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	rec := httptest.NewRecorder()

	if err := codec.Write(rec, testSession(`{"id":"u1"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cookies := rec.Result().Cookies()
	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}

	base, ok := byName["sb-auth-token"]
	if !ok || base.Value == "" {
		t.Fatalf("expected base cookie to be set")
	}
	for i := 0; i < cookieMaxChunks; i++ {
		chunk, ok := byName[fmt.Sprintf("sb-auth-token.%d", i)]
		if !ok {
			t.Fatalf("expected chunk %d to be expired", i)
		}
		if chunk.MaxAge != -1 {
			t.Fatalf("chunk %d should be expired, got MaxAge %d", i, chunk.MaxAge)
		}
	}
}

func TestWriteChunkedRoundTrip(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")

	// Large enough opaque user object to force chunking.
	user := fmt.Sprintf(`{"id":"u1","blob":%q}`, strings.Repeat("x", 8000))
	want := testSession(user)

	encoded, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded) <= cookieChunkSize {
		t.Fatalf("test session too small to chunk: %d bytes", len(encoded))
	}
	wantChunks := (len(encoded) + cookieChunkSize - 1) / cookieChunkSize

	rec := httptest.NewRecorder()
	if err := codec.Write(rec, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	gotChunks := 0
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge == -1 {
			continue
		}
		if c.Name == "sb-auth-token" {
			t.Fatalf("base cookie should not be set when chunking")
		}
		gotChunks++
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if gotChunks != wantChunks {
		t.Fatalf("chunk count: got %d want %d", gotChunks, wantChunks)
	}

	sessionsEqual(t, codec.Read(req), want)
}

func TestReadPrefersBaseCookie(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	want := testSession(`{"id":"base"}`)
	encoded, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sb-auth-token", Value: encoded})
	req.AddCookie(&http.Cookie{Name: "sb-auth-token.0", Value: "stale"})

	sessionsEqual(t, codec.Read(req), want)
}

func TestReadChunkGapTerminatesReassembly(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	want := testSession(`{"id":"u1"}`)
	encoded, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	mid := len(encoded) / 2

	// Contiguous chunks reassemble.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sb-auth-token.0", Value: encoded[:mid]})
	req.AddCookie(&http.Cookie{Name: "sb-auth-token.1", Value: encoded[mid:]})
	sessionsEqual(t, codec.Read(req), want)

	// A gap at index 1 stops reconstruction, leaving an undecodable half.
	gapped := httptest.NewRequest(http.MethodGet, "/", nil)
	gapped.AddCookie(&http.Cookie{Name: "sb-auth-token.0", Value: encoded[:mid]})
	gapped.AddCookie(&http.Cookie{Name: "sb-auth-token.2", Value: encoded[mid:]})
	if s := codec.Read(gapped); s != nil {
		t.Fatalf("expected nil session across chunk gap, got %+v", s)
	}
}

func TestClearExpiresBaseAndSignoutChunks(t *testing.T) {
	codec := NewCookieCodec("sb-auth-token")
	rec := httptest.NewRecorder()

	codec.Clear(rec)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1+signoutChunkClears {
		t.Fatalf("expected %d expired cookies, got %d", 1+signoutChunkClears, len(cookies))
	}
	seen := map[string]bool{}
	for _, c := range cookies {
		if c.MaxAge != -1 {
			t.Fatalf("cookie %s should be expired", c.Name)
		}
		seen[c.Name] = true
	}
	if !seen["sb-auth-token"] {
		t.Fatalf("base cookie not cleared")
	}
	for i := 0; i < signoutChunkClears; i++ {
		if !seen[fmt.Sprintf("sb-auth-token.%d", i)] {
			t.Fatalf("chunk %d not cleared", i)
		}
	}
}
