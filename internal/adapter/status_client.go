package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pro-subscriber/internal/types"
)

// StatusClient reads subscription status and profiles from the status API
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a status client for baseURL
func NewStatusClient(baseURL string, timeout time.Duration) *StatusClient {
	return &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ProStatus fetches the subscription expiry for fid
func (c *StatusClient) ProStatus(ctx context.Context, fid types.FID) (*types.ProStatus, error) {
	var status types.ProStatus
	if err := c.get(ctx, "/proStatus", fid, &status); err != nil {
		return nil, NewAdapterError("proStatus", err, map[string]interface{}{"fid": int64(fid)})
	}
	return &status, nil
}

// Profile fetches display fields for fid
func (c *StatusClient) Profile(ctx context.Context, fid types.FID) (*types.Profile, error) {
	var profile types.Profile
	if err := c.get(ctx, "/profile", fid, &profile); err != nil {
		return nil, NewAdapterError("profile", err, map[string]interface{}{"fid": int64(fid)})
	}
	if profile.FID == 0 {
		profile.FID = fid
	}
	return &profile, nil
}

func (c *StatusClient) get(ctx context.Context, path string, fid types.FID, out interface{}) error {
	q := url.Values{}
	q.Set("fid", strconv.FormatInt(int64(fid), 10))
	endpoint := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
