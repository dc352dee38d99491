// Package lifecycle drives a purchase from wallet connection through batch confirmation.
package lifecycle

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pro-subscriber/internal/adapter"
	"github.com/pro-subscriber/internal/errors"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/metrics"
	"github.com/pro-subscriber/internal/types"
)

// Wallet is the wallet connection and batch submission capability
type Wallet interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	SendCalls(ctx context.Context, from common.Address, chainID uint64, calls []types.Call) (string, error)
	GetCallsStatus(ctx context.Context, id string) (*types.BatchStatus, error)
}

// QuoteResolver resolves the quote for a tier and duration
type QuoteResolver interface {
	Resolve(ctx context.Context, tierID, days uint64) (*types.Quote, error)
}

// BatchBuilder encodes an intent into a call batch
type BatchBuilder interface {
	Build(intent *types.PurchaseIntent) (types.CallBatch, error)
}

// Notifier receives terminal outcomes
type Notifier interface {
	NotifySuccess(ctx context.Context, payer, beneficiary types.FID, isGift bool)
	NotifyError(ctx context.Context, category, message string) bool
}

// Config configures a Machine
type Config struct {
	ChainID       uint64
	TierID        uint64
	Days          uint64
	PollInterval  time.Duration
	MaxPollErrors int
	// ExplorerTxURL is prefixed to a transaction hash to build a link
	ExplorerTxURL string
}

// Outcome is the terminal result of a submission
type Outcome struct {
	State       types.LifecycleState  `json:"state"`
	Intent      *types.PurchaseIntent `json:"intent"`
	BatchID     string                `json:"batchId,omitempty"`
	TxHash      *common.Hash          `json:"txHash,omitempty"`
	ExplorerURL string                `json:"explorerUrl,omitempty"`
	Err         error                 `json:"-"`
}

// Machine owns the single-flight flag and the last outcome of one session
type Machine struct {
	cfg      Config
	wallet   Wallet
	resolver QuoteResolver
	builder  BatchBuilder
	notifier Notifier

	mu       sync.Mutex
	busy     bool
	inFlight *Submission
	last     *Outcome
	quote    *types.Quote
	quoteErr error

	notifying sync.WaitGroup
}

// NewMachine creates a state machine
func NewMachine(cfg Config, wallet Wallet, resolver QuoteResolver, builder BatchBuilder, notifier Notifier) *Machine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPollErrors <= 0 {
		cfg.MaxPollErrors = 10
	}
	return &Machine{
		cfg:      cfg,
		wallet:   wallet,
		resolver: resolver,
		builder:  builder,
		notifier: notifier,
	}
}

// State returns AwaitingConfirmation while a batch is in flight, the last outcome until the
// next submit, and otherwise a state derived from live wallet observations.
func (m *Machine) State(ctx context.Context) types.LifecycleState {
	m.mu.Lock()
	if m.inFlight != nil {
		m.mu.Unlock()
		return types.StateAwaitingConfirmation
	}
	if m.last != nil {
		state := m.last.State
		m.mu.Unlock()
		return state
	}
	m.mu.Unlock()

	_, _, err := m.observe(ctx)
	switch errors.KindOf(err) {
	case errors.KindWalletNotConnected:
		return types.StateDisconnected
	case errors.KindWrongNetwork:
		return types.StateWrongNetwork
	}
	return types.StateReady
}

// LastOutcome returns the outcome of the most recent settled submission
func (m *Machine) LastOutcome() *Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ClearOutcome drops the terminal snapshot so State is derived from the wallet again
func (m *Machine) ClearOutcome() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = nil
}

// Quote returns the held quote, or nil with the resolution error
func (m *Machine) Quote() (*types.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quote, m.quoteErr
}

// Connect asks the wallet for an account
func (m *Machine) Connect(ctx context.Context) error {
	accounts, err := m.wallet.RequestAccounts(ctx)
	if err != nil || len(accounts) == 0 {
		e := errors.NewWalletNotConnectedError()
		e.Cause = err
		return e
	}
	logging.FromContext(ctx).WithField("account", accounts[0].Hex()).Info("Wallet connected")
	return nil
}

// SwitchNetwork asks the wallet to move to the configured chain
func (m *Machine) SwitchNetwork(ctx context.Context) error {
	if err := m.wallet.SwitchChain(ctx, m.cfg.ChainID); err != nil {
		e := errors.NewWrongNetworkError(m.cfg.ChainID, 0)
		e.Cause = err
		return e
	}
	return nil
}

// RefreshQuote resolves the quote for the configured tier and duration and replaces the held one.
// Read failures are reported to the operator; ineligibility is only held as the guard reason.
func (m *Machine) RefreshQuote(ctx context.Context) (*types.Quote, error) {
	quote, err := m.resolver.Resolve(ctx, m.cfg.TierID, m.cfg.Days)

	m.mu.Lock()
	if err != nil {
		m.quote, m.quoteErr = nil, err
	} else {
		m.quote, m.quoteErr = quote, nil
	}
	m.mu.Unlock()

	if err != nil {
		metrics.QuoteResolutions.WithLabelValues(string(errors.KindOf(err))).Inc()
		if errors.ShouldNotify(err) {
			category, message := errors.Category(err), notifyMessage(err)
			m.dispatch(ctx, func(ctx context.Context) {
				m.notifier.NotifyError(ctx, category, message)
			})
		}
		return nil, err
	}

	metrics.QuoteResolutions.WithLabelValues("ok").Inc()
	return quote, nil
}

// Submit checks the guards, builds the batch and hands it to the wallet.
// Guard failures return an error and leave the state unchanged; everything after the guards
// is reported through the returned Submission.
func (m *Machine) Submit(ctx context.Context, payer, beneficiary types.FID) (*Submission, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"payer":       int64(payer),
		"beneficiary": int64(beneficiary),
	})

	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return nil, errors.NewSubmissionInFlightError()
	}
	m.busy = true
	m.mu.Unlock()

	intent, from, err := m.checkGuards(ctx, payer, beneficiary)
	if err != nil {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
		logger.WithError(err).Info("Submit rejected by guard")
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Submission{
		Intent:  intent,
		machine: m,
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	m.mu.Lock()
	m.last = nil
	m.inFlight = sub
	m.mu.Unlock()

	batch, err := m.builder.Build(intent)
	if err != nil {
		m.settle(ctx, sub, m.failure(intent, "", errors.NewSubmissionFailedError("could not encode batch", err)))
		return sub, nil
	}

	id, err := m.wallet.SendCalls(ctx, from, m.cfg.ChainID, batch.Calls())
	if err != nil {
		var failure *errors.OrchestrationError
		if adapter.IsUserRejection(err) {
			failure = errors.NewSubmissionRejectedError(err)
		} else {
			failure = errors.NewSubmissionFailedError("", err)
		}
		m.settle(ctx, sub, m.failure(intent, "", failure))
		return sub, nil
	}

	sub.BatchID = id
	logger.WithField("batchId", id).Info("Batch submitted, awaiting confirmation")

	go m.watch(watchCtx, sub)
	return sub, nil
}

// checkGuards evaluates in-wallet state, quote and identities in order
func (m *Machine) checkGuards(ctx context.Context, payer, beneficiary types.FID) (*types.PurchaseIntent, common.Address, error) {
	from, _, err := m.observe(ctx)
	if err != nil {
		return nil, common.Address{}, err
	}

	m.mu.Lock()
	quote, quoteErr := m.quote, m.quoteErr
	m.mu.Unlock()

	if quote == nil {
		if errors.IsGuard(quoteErr) {
			return nil, common.Address{}, quoteErr
		}
		e := errors.NewQuoteUnavailableError()
		e.Cause = quoteErr
		return nil, common.Address{}, e
	}

	if !payer.Valid() {
		return nil, common.Address{}, errors.NewMissingIdentityError("payer", int64(payer))
	}
	if !beneficiary.Valid() {
		return nil, common.Address{}, errors.NewMissingIdentityError("beneficiary", int64(beneficiary))
	}

	return &types.PurchaseIntent{Payer: payer, Beneficiary: beneficiary, Quote: quote}, from, nil
}

// observe reads the connected account and chain from the wallet
func (m *Machine) observe(ctx context.Context) (common.Address, uint64, error) {
	accounts, err := m.wallet.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		e := errors.NewWalletNotConnectedError()
		e.Cause = err
		return common.Address{}, 0, e
	}

	chainID, err := m.wallet.ChainID(ctx)
	if err != nil {
		e := errors.NewWrongNetworkError(m.cfg.ChainID, 0)
		e.Cause = err
		return common.Address{}, 0, e
	}
	if chainID != m.cfg.ChainID {
		return common.Address{}, 0, errors.NewWrongNetworkError(m.cfg.ChainID, chainID)
	}

	return accounts[0], chainID, nil
}

// watch polls the batch until the wallet reports a final status or the submission is abandoned
func (m *Machine) watch(ctx context.Context, sub *Submission) {
	logger := logging.FromContext(ctx).WithField("batchId", sub.BatchID)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	pollErrors := 0
	for {
		status, err := m.wallet.GetCallsStatus(ctx, sub.BatchID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			pollErrors++
			logger.WithError(err).WithField("pollErrors", pollErrors).Warn("Failed to poll batch status")
			if pollErrors >= m.cfg.MaxPollErrors {
				m.settle(ctx, sub, m.failure(sub.Intent, sub.BatchID,
					errors.NewSubmissionFailedError("lost track of the submitted batch", err)))
				return
			}
		case status.Status == types.CallsPending:
			pollErrors = 0
		case status.Status == types.CallsConfirmed:
			m.settle(ctx, sub, m.success(sub, status))
			return
		default:
			outcome := m.failure(sub.Intent, sub.BatchID, errors.NewSubmissionFailedError(status.Detail, nil))
			m.attachTx(outcome, status.TxHash)
			m.settle(ctx, sub, outcome)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Machine) success(sub *Submission, status *types.BatchStatus) *Outcome {
	outcome := &Outcome{
		State:   types.StateSuccess,
		Intent:  sub.Intent,
		BatchID: sub.BatchID,
	}
	m.attachTx(outcome, status.TxHash)
	return outcome
}

func (m *Machine) failure(intent *types.PurchaseIntent, batchID string, err error) *Outcome {
	return &Outcome{
		State:   types.StateFailed,
		Intent:  intent,
		BatchID: batchID,
		Err:     err,
	}
}

func (m *Machine) attachTx(outcome *Outcome, hash *common.Hash) {
	if hash == nil {
		return
	}
	outcome.TxHash = hash
	if m.cfg.ExplorerTxURL != "" {
		outcome.ExplorerURL = m.cfg.ExplorerTxURL + hash.Hex()
	}
}

// settle records the outcome and resolves the submission, then notifies in the background.
// An abandoned submission is dropped silently.
func (m *Machine) settle(ctx context.Context, sub *Submission, outcome *Outcome) {
	m.mu.Lock()
	if sub.settled {
		m.mu.Unlock()
		return
	}
	sub.settled = true
	m.last = outcome
	m.inFlight = nil
	m.busy = false
	m.mu.Unlock()

	intent := outcome.Intent
	metrics.PurchaseOutcomes.WithLabelValues(string(outcome.State), strconv.FormatBool(intent.IsGift())).Inc()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"state":   outcome.State,
		"batchId": outcome.BatchID,
		"payer":   int64(intent.Payer),
	})

	// resolving cancels the watch context; dispatch detaches from it
	sub.resolve(outcome, nil)

	if outcome.State == types.StateSuccess {
		logger.WithField("explorerUrl", outcome.ExplorerURL).Info("Purchase confirmed")
		m.dispatch(ctx, func(ctx context.Context) {
			m.notifier.NotifySuccess(ctx, intent.Payer, intent.Beneficiary, intent.IsGift())
		})
		return
	}

	// a partial failure leaves any approval in place; nothing is reversed here
	logger.WithError(outcome.Err).Warn("Purchase failed")
	if errors.ShouldNotify(outcome.Err) {
		category, message := errors.Category(outcome.Err), notifyMessage(outcome.Err)
		m.dispatch(ctx, func(ctx context.Context) {
			m.notifier.NotifyError(ctx, category, message)
		})
	}
}

// dispatch runs a notification off the purchase path
func (m *Machine) dispatch(ctx context.Context, notify func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	m.notifying.Add(1)
	go func() {
		defer m.notifying.Done()
		notify(ctx)
	}()
}

// Flush waits for notifications already dispatched, or for ctx to end.
// Call it once no more quotes or submissions will be started, e.g. before the process exits.
func (m *Machine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.notifying.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon stops listening for sub without notifying
func (m *Machine) abandon(sub *Submission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.settled {
		return false
	}
	sub.settled = true
	if m.inFlight == sub {
		m.inFlight = nil
		m.busy = false
	}
	return true
}

// notifyMessage is the operator-facing text for an error, including its cause
func notifyMessage(err error) string {
	oe, ok := errors.As(err)
	if !ok {
		return err.Error()
	}
	if oe.Cause != nil {
		return fmt.Sprintf("%s: %v", oe.UserMessage(), oe.Cause)
	}
	return oe.UserMessage()
}
