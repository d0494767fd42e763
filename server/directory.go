package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DirectoryClient looks up users in the Graph-style directory service.
// A nil or unconfigured client disables profile sync.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewDirectoryClient builds the directory client. In client_credentials
// mode the underlying transport fetches and refreshes an app token from
// the configured token endpoint; in none mode requests go out bare.
func NewDirectoryClient(cfg DirectoryConfig, base *http.Client, logger *slog.Logger) *DirectoryClient {
	client := base
	if cfg.AuthMode == DirectoryAuthClientCredentials {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		if cfg.Scope != "" {
			cc.Scopes = []string{cfg.Scope}
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = profileTimeout
	}

	return &DirectoryClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Configured reports whether a directory service was supplied at all.
func (d *DirectoryClient) Configured() bool {
	return d != nil && d.baseURL != ""
}

// LookupUser fetches a directory user by email address.
func (d *DirectoryClient) LookupUser(ctx context.Context, email string) (*DirectoryUser, error) {
	target := fmt.Sprintf("%s/v1.0/users/%s?$select=id,displayName,jobTitle,department,mail",
		d.baseURL, url.PathEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory lookup: status %d", resp.StatusCode)
	}

	var user DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	return &user, nil
}

// upsertProfile merges directory attributes into the profile store through
// the auth service's REST interface. Conflicts resolve by merge so repeated
// logins keep a single row per user.
func (a *App) upsertProfile(ctx context.Context, accessToken string, profile map[string]any) error {
	body, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.authDBURL("/rest/v1/user_profiles"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Apikey", a.Config.AuthDB.AnonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := a.Profile.Do(req)
	if err != nil {
		return fmt.Errorf("profile upsert: %w", err)
	}
	defer resp.Body.Close()

	return nil
}
