package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.notion.com/v1"
	// apiVersion is sent as the Notion-Version header on every request.
	apiVersion = "2022-06-28"
	// pageSize is the maximum page size the API accepts.
	pageSize = 100
)

// Client is a minimal REST client for the record store API. All calls go
// through the retrying transport handed in at construction.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client authenticating with token. httpClient
// carries the retry/rate-limit behavior; nil falls back to the default
// client.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL:    DefaultBaseURL,
		Token:      token,
		HTTPClient: httpClient,
	}
}

// doRequest performs an HTTP request with authentication and decodes the
// response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Notion-Version", apiVersion)
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

// Page is one page of a database query.
type Page struct {
	Results    []*Record `json:"results"`
	NextCursor string    `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// QueryDatabase fetches one page of records, optionally filtered.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter map[string]any, startCursor string) (*Page, error) {
	body := map[string]any{"page_size": pageSize}
	if filter != nil {
		body["filter"] = filter
	}
	if startCursor != "" {
		body["start_cursor"] = startCursor
	}
	var page Page
	if err := c.doRequest(ctx, "POST", "/databases/"+databaseID+"/query", body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DatabaseInfo is the schema-level view of a database.
type DatabaseInfo struct {
	ID          string                    `json:"id"`
	Description []map[string]any          `json:"description"`
	Properties  map[string]map[string]any `json:"properties"`
}

// RetrieveDatabase fetches the database schema and description.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*DatabaseInfo, error) {
	var info DatabaseInfo
	if err := c.doRequest(ctx, "GET", "/databases/"+databaseID, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateDatabase patches database-level attributes (schema properties,
// description).
func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, payload map[string]any) error {
	return c.doRequest(ctx, "PATCH", "/databases/"+databaseID, payload, nil)
}

// CreatePage creates a record in the database.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any) (*Record, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	var rec Record
	if err := c.doRequest(ctx, "POST", "/pages", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdatePage patches record properties.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) error {
	return c.doRequest(ctx, "PATCH", "/pages/"+pageID, map[string]any{"properties": properties}, nil)
}

// ArchivePage soft-deletes a record. Archiving an already archived record
// succeeds remotely, so the call is naturally idempotent.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	return c.doRequest(ctx, "PATCH", "/pages/"+pageID, map[string]any{"archived": true}, nil)
}

// BlockPage is one page of a block-children listing.
type BlockPage struct {
	Results    []Block `json:"results"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// ListBlocks fetches one page of a page's content blocks.
func (c *Client) ListBlocks(ctx context.Context, blockID, startCursor string) (*BlockPage, error) {
	path := fmt.Sprintf("/blocks/%s/children?page_size=%d", blockID, pageSize)
	if startCursor != "" {
		path += "&start_cursor=" + startCursor
	}
	var page BlockPage
	if err := c.doRequest(ctx, "GET", path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AppendBlocks appends content blocks to a page.
func (c *Client) AppendBlocks(ctx context.Context, blockID string, children []map[string]any) error {
	return c.doRequest(ctx, "PATCH", "/blocks/"+blockID+"/children", map[string]any{"children": children}, nil)
}

// DeleteBlock removes one content block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	return c.doRequest(ctx, "DELETE", "/blocks/"+blockID, nil, nil)
}
