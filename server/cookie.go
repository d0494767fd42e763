package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Cookie wire format constants. The bootstrap page script embeds the same
// values so the browser-side writer and this codec cannot drift apart.
const (
	// cookieBase64Prefix marks a base64url-encoded cookie value. This is
	// the client library's v0.8+ default format.
	cookieBase64Prefix = "base64-"

	// cookieChunkSize is the maximum encoded length stored in one cookie.
	cookieChunkSize = 3072

	// cookieMaxChunks bounds how many chunk suffixes are read or cleared
	// when writing a new value.
	cookieMaxChunks = 10

	// signoutChunkClears is how many chunk suffixes signout expires.
	signoutChunkClears = 5
)

// CookieCodec encodes and decodes the session cookie, including the
// chunking scheme for values that exceed a single-cookie budget.
//
// Encoding always produces the base64url format. Decoding accepts every
// format the cookie may historically contain: base64url with prefix,
// raw JSON, and percent-encoded JSON.
type CookieCodec struct {
	Name string
}

// NewCookieCodec returns a codec bound to the given cookie base name.
func NewCookieCodec(name string) *CookieCodec {
	return &CookieCodec{Name: name}
}

// Encode serializes the session into its cookie wire representation.
func (c *CookieCodec) Encode(s *Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return cookieBase64Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// decodeFunc attempts one wire format; nil means "try the next one".
type decodeFunc func(string) *Session

// decodeChain lists the supported formats in priority order.
var decodeChain = []decodeFunc{
	decodeBase64Session,
	decodeJSONSession,
	decodeURLEncodedSession,
}

// Decode parses a raw cookie value into a session. Returns nil when no
// format matches; callers treat nil as "no session", never as an error.
func (c *CookieCodec) Decode(raw string) *Session {
	if raw == "" {
		return nil
	}
	for _, fn := range decodeChain {
		if s := fn(raw); s != nil {
			return s
		}
	}
	return nil
}

func decodeBase64Session(raw string) *Session {
	if !strings.HasPrefix(raw, cookieBase64Prefix) {
		return nil
	}
	b64 := strings.TrimPrefix(raw, cookieBase64Prefix)
	// Padding may have been stripped by the encoder; restore it.
	if m := len(b64) % 4; m != 0 {
		b64 += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.URLEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return parseSessionJSON(decoded)
}

func decodeJSONSession(raw string) *Session {
	return parseSessionJSON([]byte(raw))
}

func decodeURLEncodedSession(raw string) *Session {
	unquoted, err := url.QueryUnescape(raw)
	if err != nil {
		return nil
	}
	return parseSessionJSON([]byte(unquoted))
}

func parseSessionJSON(b []byte) *Session {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	return &s
}

// Read reassembles the session from the request cookies. A cookie with the
// base name wins; otherwise chunks name.0, name.1, ... are concatenated in
// index order until the first gap.
func (c *CookieCodec) Read(r *http.Request) *Session {
	if ck, err := r.Cookie(c.Name); err == nil && ck.Value != "" {
		return c.Decode(ck.Value)
	}

	var sb strings.Builder
	for i := 0; i < cookieMaxChunks; i++ {
		ck, err := r.Cookie(fmt.Sprintf("%s.%d", c.Name, i))
		if err != nil {
			break
		}
		sb.WriteString(ck.Value)
	}
	if sb.Len() == 0 {
		return nil
	}
	return c.Decode(sb.String())
}

// Write encodes the session and sets it as one cookie, or as ordered chunk
// cookies when the encoded value exceeds the per-cookie budget. Stale names
// left over from a previously larger session are expired in the same
// response so no orphaned chunks survive.
func (c *CookieCodec) Write(w http.ResponseWriter, s *Session) error {
	encoded, err := c.Encode(s)
	if err != nil {
		return err
	}

	if len(encoded) <= cookieChunkSize {
		setSessionCookie(w, c.Name, encoded)
		for i := 0; i < cookieMaxChunks; i++ {
			expireCookie(w, fmt.Sprintf("%s.%d", c.Name, i))
		}
		return nil
	}

	chunks := 0
	for off := 0; off < len(encoded); off += cookieChunkSize {
		end := off + cookieChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		setSessionCookie(w, fmt.Sprintf("%s.%d", c.Name, chunks), encoded[off:end])
		chunks++
	}
	expireCookie(w, c.Name)
	for i := chunks; i < cookieMaxChunks; i++ {
		expireCookie(w, fmt.Sprintf("%s.%d", c.Name, i))
	}
	return nil
}

// Clear expires the base cookie and the chunk names signout is contracted
// to remove, whether or not any of them were present.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	expireCookie(w, c.Name)
	for i := 0; i < signoutChunkClears; i++ {
		expireCookie(w, fmt.Sprintf("%s.%d", c.Name, i))
	}
}

// The session cookie is read and written by the browser-side client
// library, so it must not be HttpOnly.
func setSessionCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
}

func expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
