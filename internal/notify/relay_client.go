package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pro-subscriber/internal/retry"
)

// IdempotencyHeader carries the caller-generated key on every relay request
const IdempotencyHeader = "idempotency-key"

// RelayClient delivers messages through the PUT /dc relay
type RelayClient struct {
	endpoint  string
	authToken string
	client    *http.Client
	retry     *retry.RetryConfig
}

// NewRelayClient creates a client for the relay at baseURL
func NewRelayClient(baseURL, authToken string, timeout time.Duration, retryConfig *retry.RetryConfig) *RelayClient {
	if retryConfig == nil {
		retryConfig = retry.DefaultRetryConfig()
	}
	return &RelayClient{
		endpoint:  strings.TrimRight(baseURL, "/") + "/dc",
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
		retry:     retryConfig,
	}
}

// StatusError is a non-2xx relay response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// Send delivers msg. Transport errors, 429 and 5xx responses are resent with the same key.
func (c *RelayClient) Send(ctx context.Context, msg Message, idempotencyKey string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	result := retry.WithExponentialBackoff(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.put(ctx, body, idempotencyKey)
	})
	if !result.Success {
		return result.LastError
	}
	return nil
}

func (c *RelayClient) put(ctx context.Context, body []byte, idempotencyKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, idempotencyKey)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: readError(resp.Body)}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return statusErr
	}
	return retry.Permanent(statusErr)
}

func readError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
