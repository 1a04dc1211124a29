package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Okazakee/okazakee-ws-sub000/internal/xerrors"
)

// Client queries the auth backend's user endpoint with the access token
// from the session cookies. Before spending a network round trip it
// inspects the access token locally: an expired access token with no
// refresh token to recover from is classified stale immediately.
type Client struct {
	baseURL      string
	apiKey       string
	cookiePrefix string
	httpClient   *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithCookiePrefix overrides the session cookie prefix.
func WithCookiePrefix(p string) ClientOption {
	return func(c *Client) { c.cookiePrefix = p }
}

// NewClient builds a Provider for the auth backend at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		cookiePrefix: DefaultCookiePrefix,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CookiePrefix returns the prefix this client probes for.
func (c *Client) CookiePrefix() string { return c.cookiePrefix }

// GetSession implements Provider.
func (c *Client) GetSession(ctx context.Context, cookies []*http.Cookie) (*Session, error) {
	access := cookieValue(cookies, c.cookiePrefix+"access-token")
	refresh := cookieValue(cookies, c.cookiePrefix+"refresh-token")

	if access == "" {
		if refresh != "" {
			// A refresh token with no access token means the session
			// can only be repaired by the auth backend, which the edge
			// does not do. Treat as stale so the cookies get cleared.
			return nil, ErrStaleRefreshToken
		}
		return nil, nil
	}

	if expired, err := tokenExpired(access); err == nil && expired {
		// Local classification, no network call needed.
		return nil, ErrStaleRefreshToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build session request")
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err, "query session provider")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, xerrors.Wrap(err, "decode session response")
		}
		return &Session{UserID: body.ID, Email: body.Email}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The backend rejected a token we could not rule out locally.
		return nil, ErrStaleRefreshToken
	default:
		return nil, xerrors.Newf("session provider returned status %d", resp.StatusCode)
	}
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// tokenExpired parses the JWT without verifying its signature (the edge
// does not hold the signing key) purely to read the exp claim.
func tokenExpired(token string) (bool, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return false, fmt.Errorf("access token has no exp claim")
	}
	return claims.ExpiresAt.Before(time.Now()), nil
}
