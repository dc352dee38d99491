package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pro-subscriber/internal/adapter"
)

const maxUpstreamBody = 1 << 20

// UpstreamResponse is the message provider's answer
type UpstreamResponse struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status
func (r *UpstreamResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Forwarder sends a message to the upstream provider
type Forwarder interface {
	Forward(ctx context.Context, key string, body []byte) (*UpstreamResponse, error)
}

// UpstreamClient forwards relay messages to the direct-cast provider
type UpstreamClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewUpstreamClient creates a client for url authenticated with apiKey
func NewUpstreamClient(url, apiKey string, timeout time.Duration) *UpstreamClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UpstreamClient{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Forward PUTs body to the provider with the caller's idempotency key.
// Non-2xx answers are returned as responses, not errors.
func (c *UpstreamClient) Forward(ctx context.Context, key string, body []byte) (*UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, adapter.NewAdapterError("Forward", err, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(idempotencyHeader, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, adapter.NewAdapterError("Forward", fmt.Errorf("%w: %v", adapter.ErrProviderUnavailable, err), nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, adapter.NewAdapterError("Forward", err, map[string]interface{}{
			"status": resp.StatusCode,
		})
	}

	return &UpstreamResponse{Status: resp.StatusCode, Body: respBody}, nil
}
