package server

import "encoding/json"

// Session captures the authenticated browser session persisted in the auth
// cookie. User is whatever the auth service's /user endpoint returned; the
// gateway never inspects it beyond passing it through.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	User         json.RawMessage `json:"user,omitempty"`
}

// DirectoryUser holds the subset of directory attributes the gateway syncs
// into the profile store.
type DirectoryUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	JobTitle    string `json:"jobTitle"`
	Department  string `json:"department"`
	Mail        string `json:"mail"`
}

// TokenRequest is the body accepted by POST /auth/session.
type TokenRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
