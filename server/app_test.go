package server

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Server.StaticDir = ""
	cfg.AuthDB.AnonKey = "anon-key"
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(cfg, logger)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}

// makeJWT builds an unsigned-but-well-formed token; the gateway only ever
// peeks at claims without verifying signatures.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}
