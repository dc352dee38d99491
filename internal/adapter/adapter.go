// Package adapter provides the on-chain read, wallet and status-endpoint clients used by the purchase flow.
package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for adapters

var (
	// ErrProviderUnavailable indicates no RPC endpoint could serve the request
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")

	// ErrProviderRateLimit indicates the provider rate limit was exceeded
	ErrProviderRateLimit = fmt.Errorf("provider rate limit exceeded")

	// ErrUnexpectedStatus indicates an HTTP endpoint answered with a non-2xx status
	ErrUnexpectedStatus = fmt.Errorf("unexpected status")

	// ErrInvalidResponse indicates a response could not be decoded
	ErrInvalidResponse = fmt.Errorf("invalid response")
)

// AdapterError wraps errors with the operation that failed
type AdapterError struct {
	Op      string // e.g. "tierInfo", "wallet_sendCalls"
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s]: %v (details: %+v)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s]: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// ShouldFailover determines if an error warrants failing over to another RPC endpoint.
// Contract-level failures such as reverts are answered the same by every endpoint.
func ShouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderRateLimit) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	for _, marker := range []string{
		"rate limit", "too many requests", "429",
		"timeout", "deadline exceeded",
		"connection refused", "connection reset", "no such host", "eof",
		"502", "503", "504",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}
