package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/pro-subscriber/internal/circuitbreaker"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/metrics"
	"github.com/pro-subscriber/internal/storage"
)

const (
	idempotencyHeader = "idempotency-key"
	maxRequestBody    = 64 << 10
)

var errUpstreamServer = stderrors.New("upstream server error")

// handleSendMessage relays a direct message to the provider.
// The idempotency key is required and passed through unchanged.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		respondError(w, http.StatusBadRequest, MsgMissingIdempotencyKey)
		return
	}

	logger := logging.FromContext(r.Context()).WithField("idempotencyKey", key)
	ctx := logging.WithLogger(r.Context(), logger)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil || len(body) > maxRequestBody || !json.Valid(body) {
		respondError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	if s.replay != nil {
		stored, ok, err := s.replay.Lookup(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Replay cache lookup failed")
		} else if ok {
			metrics.RelayReplays.Inc()
			logger.Info("Replaying stored response")
			respondRaw(w, stored.Status, stored.Body)
			return
		}
	}

	resp, err := s.forward(ctx, key, body)
	if err != nil {
		if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
			logger.WithError(err).Warn("Upstream circuit open")
			respondError(w, http.StatusServiceUnavailable, MsgUpstreamUnavailable)
			return
		}
		if resp == nil {
			logger.WithError(err).Error("Failed to reach message provider")
			msg := err.Error()
			if msg == "" {
				msg = MsgUnexpected
			}
			respondError(w, http.StatusInternalServerError, msg)
			return
		}
	}

	if !resp.OK() {
		logger.WithField("upstreamStatus", resp.Status).Warn("Message provider rejected message")
		respondError(w, resp.Status, upstreamError(resp.Body))
		return
	}

	if !json.Valid(resp.Body) {
		logger.Error("Message provider returned a malformed body")
		respondError(w, http.StatusInternalServerError, MsgUnexpected)
		return
	}

	if s.replay != nil {
		stored := &storage.StoredResponse{Status: http.StatusOK, Body: json.RawMessage(resp.Body)}
		if err := s.replay.Store(ctx, key, stored); err != nil {
			logger.WithError(err).Warn("Failed to store response for replay")
		}
	}

	respondRaw(w, http.StatusOK, resp.Body)
}

// forward calls the provider through the circuit breaker. A 5xx answer counts against
// the breaker but is still returned alongside errUpstreamServer.
func (s *Server) forward(ctx context.Context, key string, body []byte) (*UpstreamResponse, error) {
	var resp *UpstreamResponse
	start := time.Now()

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.upstream.Forward(ctx, key, body)
		if err != nil {
			return err
		}
		if resp.Status >= http.StatusInternalServerError {
			return errUpstreamServer
		}
		return nil
	})

	outcome := "ok"
	switch {
	case resp == nil:
		outcome = "error"
	case !resp.OK():
		outcome = "rejected"
	}
	metrics.RelayUpstreamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return resp, err
}

// upstreamError extracts the provider's error text, falling back to a generic message
func upstreamError(body []byte) string {
	var parsed struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return MsgSendFailed
	}
	switch v := parsed.Error.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return MsgSendFailed
}
