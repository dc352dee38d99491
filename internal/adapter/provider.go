package adapter

import (
	"fmt"
	"sync"
	"time"
)

// unhealthyAfter is the number of consecutive failures after which an endpoint reports unhealthy
const unhealthyAfter = 5

// EndpointPool picks the RPC endpoint for registry reads and tracks how it is doing
type EndpointPool interface {
	GetCurrentURL() (string, error)
	// Failover moves to the next configured endpoint
	Failover() error
	RecordSuccess(latency time.Duration)
	RecordFailure(err error)
	GetHealth() *ProviderHealth
}

// ProviderHealth is a snapshot of the endpoint pool, logged when a read fails
type ProviderHealth struct {
	CurrentURL       string        `json:"currentUrl"`
	Requests         int64         `json:"requests"`
	Successes        int64         `json:"successes"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastError        string        `json:"lastError,omitempty"`
	Healthy          bool          `json:"healthy"`
}

// Fields flattens the snapshot for structured logging
func (h *ProviderHealth) Fields() map[string]interface{} {
	return map[string]interface{}{
		"rpcUrl":           h.CurrentURL,
		"rpcRequests":      h.Requests,
		"rpcSuccesses":     h.Successes,
		"consecutiveFails": h.ConsecutiveFails,
		"avgLatencyMs":     h.AverageLatency.Milliseconds(),
		"healthy":          h.Healthy,
	}
}

// RPCProvider rotates over a primary and an optional secondary endpoint
type RPCProvider struct {
	mu        sync.RWMutex
	endpoints []string
	current   int

	requests         int64
	successes        int64
	latency          time.Duration
	consecutiveFails int
	lastErr          error
}

// NewRPCProvider creates a provider; secondaryURL may be empty
func NewRPCProvider(primaryURL, secondaryURL string) (*RPCProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}

	endpoints := []string{primaryURL}
	if secondaryURL != "" && secondaryURL != primaryURL {
		endpoints = append(endpoints, secondaryURL)
	}
	return &RPCProvider{endpoints: endpoints}, nil
}

// GetCurrentURL returns the endpoint reads should go to
func (p *RPCProvider) GetCurrentURL() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoints[p.current], nil
}

// Failover moves to the next endpoint, wrapping back to the primary
func (p *RPCProvider) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) < 2 {
		return fmt.Errorf("%w: no secondary RPC endpoint configured", ErrProviderUnavailable)
	}
	p.current = (p.current + 1) % len(p.endpoints)
	p.consecutiveFails = 0
	return nil
}

func (p *RPCProvider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	p.successes++
	p.latency += latency
	p.consecutiveFails = 0
}

func (p *RPCProvider) RecordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests++
	p.consecutiveFails++
	p.lastErr = err
}

// GetHealth returns a snapshot of the counters
func (p *RPCProvider) GetHealth() *ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := &ProviderHealth{
		CurrentURL:       p.endpoints[p.current],
		Requests:         p.requests,
		Successes:        p.successes,
		ConsecutiveFails: p.consecutiveFails,
		Healthy:          p.consecutiveFails < unhealthyAfter,
	}
	if p.successes > 0 {
		h.AverageLatency = p.latency / time.Duration(p.successes)
	}
	if p.lastErr != nil {
		h.LastError = p.lastErr.Error()
	}
	return h
}
