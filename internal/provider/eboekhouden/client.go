// Package eboekhouden implements the provider adapter for e-Boekhouden.
// Auth is a short-lived session token minted from a single deployment
// credential; tenants hold no secret of their own. Like WeFact it has no
// webhooks, so status flows through the active polling cadence.
package eboekhouden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
)

// sessionTTL is how long a minted session token is reused. Sessions live
// 60 minutes server-side; the 50-minute cache leaves margin for clock
// skew and in-flight requests.
const sessionTTL = 50 * time.Minute

// Credentials is the deployment-level service credential.
type Credentials struct {
	Username      string
	SecurityCode1 string
	SecurityCode2 string
}

// Client is a session-token HTTP client shared by all tenants.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client

	mu           sync.Mutex
	sessionToken string
	sessionUntil time.Time

	sessionGroup singleflight.Group
}

func NewClient(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// session returns a valid session token, minting a new one when the
// cached token is stale. Concurrent callers await a single refresh.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.sessionToken
	valid := tok != "" && time.Now().Before(c.sessionUntil)
	c.mu.Unlock()

	if valid {
		return tok, nil
	}

	v, err, _ := c.sessionGroup.Do("session", func() (interface{}, error) {
		payload := map[string]string{
			"username":      c.creds.Username,
			"securityCode1": c.creds.SecurityCode1,
			"securityCode2": c.creds.SecurityCode2,
		}
		var result struct {
			Token string `json:"token"`
		}
		if err := c.post(ctx, "/session", "", payload, &result); err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sessionToken = result.Token
		c.sessionUntil = time.Now().Add(sessionTTL)
		c.mu.Unlock()
		return result.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// do issues an authenticated request.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	tok, err := c.session(ctx)
	if err != nil {
		return err
	}
	if method == "GET" {
		return c.get(ctx, path, tok, out)
	}
	return c.post(ctx, path, tok, payload, out)
}

func (c *Client) post(ctx context.Context, path, token string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	return c.send(req, path, out)
}

func (c *Client) get(ctx context.Context, path, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token)

	return c.send(req, path, out)
}

func (c *Client) send(req *http.Request, path string, out interface{}) error {
	req.Header.Set("Accept", "application/json")

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
			Provider:   domain.ProviderEBoekhouden.String(),
			Operation:  req.Method + " " + path,
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
