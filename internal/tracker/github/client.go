package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultEndpoint is the GitHub GraphQL API endpoint.
const DefaultEndpoint = "https://api.github.com/graphql"

// GraphQLError is one error entry of a GraphQL response.
type GraphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GraphQLErrors is the error set of a failed GraphQL request. The
// transport-level call succeeded; the query itself was rejected.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Message
	}
	return strings.Join(msgs, "; ")
}

// isValidationTimeout reports the specific server response that means
// the query was too large to validate in time; the fetch layer reacts by
// halving its chunk size.
func isValidationTimeout(err error) bool {
	var gqlErrs GraphQLErrors
	if !asGraphQLErrors(err, &gqlErrs) {
		return false
	}
	for _, e := range gqlErrs {
		if e.Message == "Timeout on validation of query" {
			return true
		}
	}
	return false
}

func asGraphQLErrors(err error, target *GraphQLErrors) bool {
	for err != nil {
		if gql, ok := err.(GraphQLErrors); ok {
			*target = gql
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Client is a minimal GraphQL client for the GitHub API.
type Client struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client authenticating with token. httpClient
// carries the retry behavior.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		Endpoint:   DefaultEndpoint,
		Token:      token,
		HTTPClient: httpClient,
	}
}

// Do executes one GraphQL request and decodes the data object into out.
// A response carrying GraphQL errors returns them as GraphQLErrors.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

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
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors GraphQLErrors   `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return envelope.Errors
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}
