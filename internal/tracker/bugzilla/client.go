// Package bugzilla implements the tracker interface on the Bugzilla
// REST API. One instance serves one Bugzilla installation, addressed by
// its hostname.
package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client is a minimal Bugzilla REST client. The API key travels as a
// query parameter, which is the documented authentication scheme.
type Client struct {
	BaseURL    string // installation root, e.g. https://bugzilla.mozilla.org
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a client for the installation at baseURL.
// httpClient carries the retry behavior.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, HTTPClient: httpClient}
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if c.APIKey != "" {
		params.Set("api_key", c.APIKey)
	}
	endpoint := c.BaseURL + "/rest" + path + "?" + params.Encode()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error %d on %s %s: %s", resp.StatusCode, method, path, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Get performs a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.doRequest(ctx, "GET", path, params, nil, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) error {
	return c.doRequest(ctx, "PUT", path, nil, body, nil)
}
