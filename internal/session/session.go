// Package session wires one purchase session: its state machine, its notification
// record and the read-only views shown alongside it.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pro-subscriber/internal/errors"
	"github.com/pro-subscriber/internal/expiry"
	"github.com/pro-subscriber/internal/lifecycle"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/notify"
	"github.com/pro-subscriber/internal/types"
)

// ContactURLPrefix is joined with the operator FID when no contact URL is configured
const ContactURLPrefix = "https://farcaster.xyz/~/inbox/create/"

// StatusSource reads a user's current subscription expiry
type StatusSource interface {
	ProStatus(ctx context.Context, fid types.FID) (*types.ProStatus, error)
}

// Config configures a Session
type Config struct {
	Machine     lifecycle.Config
	OperatorFID types.FID
	ContactURL  string
	SendTimeout time.Duration
}

// Deps are the capabilities a Session is built on
type Deps struct {
	Wallet   lifecycle.Wallet
	Resolver lifecycle.QuoteResolver
	Builder  lifecycle.BatchBuilder
	Sender   notify.MessageSender
	Profiles notify.ProfileSource
	Status   StatusSource
}

// Session owns the state for one user session. Nothing in it is shared with other sessions.
type Session struct {
	machine    *lifecycle.Machine
	dispatcher *notify.Dispatcher
	expiry     *expiry.Calculator
	status     StatusSource
	contactURL string
}

// ErrorView is what the user sees for an error: the message and the manual escalation link
type ErrorView struct {
	Kind       errors.Kind `json:"kind,omitempty"`
	Message    string      `json:"message"`
	ContactURL string      `json:"contactUrl"`
}

// New creates a session with a fresh notification record
func New(cfg Config, deps Deps) *Session {
	dispatcher := notify.NewDispatcher(deps.Sender, notify.NewRecord(), notify.DispatcherConfig{
		OperatorFID: cfg.OperatorFID,
		SendTimeout: cfg.SendTimeout,
		Profiles:    deps.Profiles,
	})

	contactURL := cfg.ContactURL
	if contactURL == "" {
		contactURL = fmt.Sprintf("%s%d", ContactURLPrefix, int64(cfg.OperatorFID))
	}

	return &Session{
		machine:    lifecycle.NewMachine(cfg.Machine, deps.Wallet, deps.Resolver, deps.Builder, dispatcher),
		dispatcher: dispatcher,
		expiry:     expiry.NewCalculator(),
		status:     deps.Status,
		contactURL: contactURL,
	}
}

// Machine returns the session's state machine
func (s *Session) Machine() *lifecycle.Machine {
	return s.machine
}

// Dispatcher returns the session's notification dispatcher
func (s *Session) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

// ContactOperatorURL is always available, whether or not an automatic report was sent
func (s *Session) ContactOperatorURL() string {
	return s.contactURL
}

// Present renders err for the user
func (s *Session) Present(err error) ErrorView {
	view := ErrorView{ContactURL: s.contactURL}
	if oe, ok := errors.As(err); ok {
		view.Kind = oe.Kind
		view.Message = oe.UserMessage()
		return view
	}
	if err != nil {
		view.Message = err.Error()
	}
	return view
}

// Expiry describes the time left on fid's subscription
func (s *Session) Expiry(ctx context.Context, fid types.FID) (string, error) {
	if s.status == nil {
		return "", fmt.Errorf("no status source configured")
	}
	status, err := s.status.ProStatus(ctx, fid)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("fid", int64(fid)).Warn("Failed to read subscription status")
		return "", err
	}
	return s.expiry.String(status.ExpiresAt), nil
}
