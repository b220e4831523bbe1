package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBody = 512

// StatusError is returned for any non-2xx answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, e.Body)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// Client posts pipeline requests to a chat endpoint. No timeout is imposed
// beyond the caller's context.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a Client for endpoint, or DefaultEndpoint when empty.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{endpoint: endpoint, http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

// Chat sends req and decodes the {"response": ...} body. Non-2xx statuses,
// malformed JSON and a missing response field are all errors.
func (c *Client) Chat(ctx context.Context, req PipelineRequest) (PipelineResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return PipelineResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return PipelineResult{}, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	var decoded struct {
		Response *string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PipelineResult{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Response == nil {
		return PipelineResult{}, fmt.Errorf("decode response: missing %q field", "response")
	}
	return PipelineResult{Response: *decoded.Response}, nil
}
