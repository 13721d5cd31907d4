// Package moneybird implements the provider adapter for Moneybird:
// OAuth2 bearer auth with proactive refresh, hosted PDF and payment
// links, webhook-driven status updates.
package moneybird

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
)

// refreshBuffer is how long before token expiry we refresh proactively,
// so an authenticated call never departs with a token about to lapse.
const refreshBuffer = 5 * time.Minute

// TokenStore persists refreshed token pairs. Satisfied by the credential
// service.
type TokenStore interface {
	UpdateTokens(ctx context.Context, tenantID uuid.UUID, p domain.Provider, accessToken, refreshToken string, expiresAt time.Time) error
}

// Client is an authenticated Moneybird HTTP client for one tenant.
type Client struct {
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	tenantID     uuid.UUID
	tokens       TokenStore
	httpClient   *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	refreshGroup singleflight.Group
}

// ClientConfig carries the deployment OAuth2 app plus the tenant's
// current token pair.
type ClientConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	TenantID     uuid.UUID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func NewClient(cfg ClientConfig, tokens TokenStore) *Client {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://moneybird.com/oauth/token"
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tenantID:     cfg.TenantID,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
		expiresAt:    cfg.ExpiresAt,
	}
}

// token returns a usable access token, refreshing first when inside the
// safety buffer. Concurrent callers share one in-flight refresh.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.accessToken
	needsRefresh := !c.expiresAt.IsZero() && time.Until(c.expiresAt) < refreshBuffer && c.refreshToken != ""
	c.mu.Unlock()

	if !needsRefresh {
		return tok, nil
	}

	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	tok = c.accessToken
	c.mu.Unlock()
	return tok, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh exchanges the refresh token for a new pair and persists it.
// A refresh failure propagates as a request failure; there is no retry
// at this layer.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &provider.HTTPError{
			Provider:   domain.ProviderMoneybird.String(),
			Operation:  "token_refresh",
			StatusCode: resp.StatusCode,
			RawBody:    string(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("failed to parse refresh response: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	c.mu.Lock()
	c.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	c.expiresAt = expiresAt
	refreshToken = c.refreshToken
	c.mu.Unlock()

	return c.tokens.UpdateTokens(ctx, c.tenantID, domain.ProviderMoneybird, tr.AccessToken, refreshToken, expiresAt)
}

// do issues an authenticated JSON request against the Moneybird API and
// decodes the response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.HTTPError{
			Provider:   domain.ProviderMoneybird.String(),
			Operation:  method + " " + path,
			StatusCode: resp.StatusCode,
			RawBody:    string(body),
		}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
