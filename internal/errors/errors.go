// Package errors defines the purchase orchestration error taxonomy and its propagation rules.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies a kind of orchestration error
type Kind string

const (
	// KindWalletNotConnected means no wallet account is connected
	KindWalletNotConnected Kind = "wallet_not_connected"
	// KindWrongNetwork means the wallet is on a different chain
	KindWrongNetwork Kind = "wrong_network"
	// KindTierIneligible means the tier cannot be purchased
	KindTierIneligible Kind = "tier_ineligible"
	// KindMissingIdentity means the payer or beneficiary identity is not usable
	KindMissingIdentity Kind = "missing_identity"
	// KindQuoteUnavailable means no quote has been resolved yet
	KindQuoteUnavailable Kind = "quote_unavailable"
	// KindSubmissionInFlight means a batch is already awaiting confirmation
	KindSubmissionInFlight Kind = "submission_in_flight"
	// KindReadFailed means an on-chain read failed
	KindReadFailed Kind = "read_failed"
	// KindSubmissionRejected means the user declined the request in the wallet
	KindSubmissionRejected Kind = "submission_rejected"
	// KindSubmissionFailed means the batch failed to execute
	KindSubmissionFailed Kind = "submission_failed"
	// KindNotificationDeliveryFailed means a message could not be delivered
	KindNotificationDeliveryFailed Kind = "notification_delivery_failed"
)

// Stage decides how an error propagates
type Stage string

const (
	// StageGuard errors are resolved locally and never notified
	StageGuard Stage = "guard"
	// StageTerminal errors are shown to the user and forwarded to the operator
	StageTerminal Stage = "terminal"
	// StageSwallowed errors are logged only
	StageSwallowed Stage = "swallowed"
)

// Ineligibility reasons
const (
	ReasonInactive   = "inactive"
	ReasonWrongToken = "wrong-token"
	ReasonDuration   = "duration"
)

// Read sources
const (
	SourceTierInfo = "tierInfo"
	SourceDecimals = "decimals"
	SourcePrice    = "price"
)

// OrchestrationError is a tagged error raised by the purchase flow
type OrchestrationError struct {
	Kind    Kind
	Stage   Stage
	Reason  string // TierIneligible only
	Source  string // ReadFailed only
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *OrchestrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *OrchestrationError) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind so sentinel comparisons work with errors.Is
func (e *OrchestrationError) Is(target error) bool {
	t, ok := target.(*OrchestrationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// UserMessage returns the text shown to the user
func (e *OrchestrationError) UserMessage() string {
	return e.Message
}

// Guard errors

// NewWalletNotConnectedError creates a wallet-not-connected error
func NewWalletNotConnectedError() *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindWalletNotConnected,
		Stage:   StageGuard,
		Message: "Please connect your wallet.",
	}
}

// NewWrongNetworkError creates a wrong-network error
func NewWrongNetworkError(want, got uint64) *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindWrongNetwork,
		Stage:   StageGuard,
		Message: "Please switch to the Base network.",
		Details: map[string]interface{}{
			"wantChainId": want,
			"chainId":     got,
		},
	}
}

// NewTierIneligibleError creates a tier-ineligible error for the given reason
func NewTierIneligibleError(tierID uint64, reason string) *OrchestrationError {
	var msg string
	switch reason {
	case ReasonInactive:
		msg = fmt.Sprintf("Tier %d is not active.", tierID)
	case ReasonWrongToken:
		msg = fmt.Sprintf("Tier %d is not priced in the supported stablecoin.", tierID)
	case ReasonDuration:
		msg = fmt.Sprintf("Tier %d does not allow this subscription length.", tierID)
	default:
		msg = fmt.Sprintf("Tier %d cannot be purchased.", tierID)
	}
	return &OrchestrationError{
		Kind:    KindTierIneligible,
		Stage:   StageGuard,
		Reason:  reason,
		Message: msg,
		Details: map[string]interface{}{
			"tierId": tierID,
		},
	}
}

// NewMissingIdentityError creates a missing-identity error
func NewMissingIdentityError(role string, fid int64) *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindMissingIdentity,
		Stage:   StageGuard,
		Message: "No valid Farcaster ID found.",
		Details: map[string]interface{}{
			"role": role,
			"fid":  fid,
		},
	}
}

// NewQuoteUnavailableError creates an error for a submit attempted before a quote exists
func NewQuoteUnavailableError() *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindQuoteUnavailable,
		Stage:   StageGuard,
		Message: "Subscription price not available.",
	}
}

// NewSubmissionInFlightError creates an error for a submit during AwaitingConfirmation
func NewSubmissionInFlightError() *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindSubmissionInFlight,
		Stage:   StageGuard,
		Message: "A purchase is already awaiting confirmation.",
	}
}

// Terminal errors

// NewReadFailedError creates a read-failed error for the given source
func NewReadFailedError(source string, cause error) *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindReadFailed,
		Stage:   StageTerminal,
		Source:  source,
		Message: fmt.Sprintf("Failed to fetch %s", source),
		Cause:   cause,
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewSubmissionRejectedError creates an error for a batch the user declined
func NewSubmissionRejectedError(cause error) *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindSubmissionRejected,
		Stage:   StageTerminal,
		Message: "Transaction was rejected in the wallet.",
		Cause:   cause,
	}
}

// NewSubmissionFailedError creates an error for a batch that failed to execute
func NewSubmissionFailedError(detail string, cause error) *OrchestrationError {
	msg := "Transaction failed."
	if detail != "" {
		msg = fmt.Sprintf("Transaction failed: %s", detail)
	}
	return &OrchestrationError{
		Kind:    KindSubmissionFailed,
		Stage:   StageTerminal,
		Message: msg,
		Cause:   cause,
	}
}

// Swallowed errors

// NewNotificationDeliveryFailedError creates a delivery failure error
func NewNotificationDeliveryFailedError(recipient int64, cause error) *OrchestrationError {
	return &OrchestrationError{
		Kind:    KindNotificationDeliveryFailed,
		Stage:   StageSwallowed,
		Message: fmt.Sprintf("failed to deliver message to fid %d", recipient),
		Cause:   cause,
		Details: map[string]interface{}{
			"recipientFid": recipient,
		},
	}
}

// As extracts an OrchestrationError from an error chain
func As(err error) (*OrchestrationError, bool) {
	var oe *OrchestrationError
	if stderrors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// KindOf returns the kind of an error, or "" if it is not an orchestration error
func KindOf(err error) Kind {
	if oe, ok := As(err); ok {
		return oe.Kind
	}
	return ""
}

// IsGuard reports whether the error is resolved locally without notification
func IsGuard(err error) bool {
	oe, ok := As(err)
	return ok && oe.Stage == StageGuard
}

// ShouldNotify reports whether the error must be forwarded to the operator
func ShouldNotify(err error) bool {
	oe, ok := As(err)
	if !ok {
		// Unclassified failures reaching a terminal state are treated as execution failures
		return err != nil
	}
	return oe.Stage == StageTerminal
}

// Category returns the notification category for an error
func Category(err error) string {
	if oe, ok := As(err); ok {
		return string(oe.Kind)
	}
	return string(KindSubmissionFailed)
}
