// Package wefact implements the provider adapter for WeFact. The API is
// a single endpoint taking controller/action commands in a JSON body,
// authenticated by a static API key carried in the same body. WeFact has
// no reliable webhooks, so the refresh queue polls it actively.
package wefact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/styryl1/invoicecore/internal/domain"
	"github.com/styryl1/invoicecore/internal/provider"
)

// Client issues controller/action commands against the WeFact API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends one command. params are merged into the request body next to
// the api_key/controller/action triple; the response is decoded into out.
func (c *Client) do(ctx context.Context, controller, action string, params map[string]interface{}, out interface{}) error {
	body := map[string]interface{}{
		"api_key":    c.apiKey,
		"controller": controller,
		"action":     action,
	}
	for k, v := range params {
		body[k] = v
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.HTTPError{
			Provider:   domain.ProviderWeFact.String(),
			Operation:  controller + "/" + action,
			StatusCode: resp.StatusCode,
			RawBody:    string(respBody),
		}
	}

	// WeFact signals failures inside a 200 response.
	var envelope struct {
		Status string   `json:"status"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope.Status == "error" {
		return &provider.HTTPError{
			Provider:   domain.ProviderWeFact.String(),
			Operation:  controller + "/" + action,
			StatusCode: resp.StatusCode,
			RawBody:    string(respBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
