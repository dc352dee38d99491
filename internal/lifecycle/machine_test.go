package lifecycle

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pro-subscriber/internal/errors"
	"github.com/pro-subscriber/internal/pricing"
	"github.com/pro-subscriber/internal/txbuilder"
	"github.com/pro-subscriber/internal/types"
)

const baseChain = 8453

var (
	usdc     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	registry = common.HexToAddress("0x00000000fc84484d585C3cF48d213424DFDE43FD")
	feeTo    = common.HexToAddress("0x06e5B0fd556e8dF43BC45f8343945Fb12C6C3E90")
	account  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// fakeWallet serves scripted batch statuses one poll at a time
type fakeWallet struct {
	mu        sync.Mutex
	accounts  []common.Address
	chainID   uint64
	sendErr   error
	statuses  []types.BatchStatus
	pollErr   error
	polls     int
	sentCalls [][]types.Call
}

func (w *fakeWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accounts, nil
}

func (w *fakeWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = []common.Address{account}
	return w.accounts, nil
}

func (w *fakeWallet) ChainID(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
	return nil
}

func (w *fakeWallet) SendCalls(ctx context.Context, from common.Address, chainID uint64, calls []types.Call) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sentCalls = append(w.sentCalls, calls)
	if w.sendErr != nil {
		return "", w.sendErr
	}
	return "0xbatch", nil
}

func (w *fakeWallet) GetCallsStatus(ctx context.Context, id string) (*types.BatchStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pollErr != nil {
		return nil, w.pollErr
	}
	if len(w.statuses) == 0 {
		return &types.BatchStatus{ID: id, Status: types.CallsPending}, nil
	}
	status := w.statuses[0]
	if len(w.statuses) > 1 {
		w.statuses = w.statuses[1:]
	}
	w.polls++
	return &status, nil
}

func (w *fakeWallet) setStatuses(statuses ...types.BatchStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statuses = statuses
}

type fakeNotifier struct {
	mu        sync.Mutex
	successes []bool
	errs      []string
}

func (n *fakeNotifier) NotifySuccess(ctx context.Context, payer, beneficiary types.FID, isGift bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, isGift)
}

func (n *fakeNotifier) NotifyError(ctx context.Context, category, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, category)
	return true
}

func (n *fakeNotifier) snapshot() ([]bool, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.successes...), append([]string(nil), n.errs...)
}

type fakeReader struct {
	tier     *types.TierInfo
	tierErr  error
	price    *big.Int
	decimals uint8
}

func (f *fakeReader) TierInfo(ctx context.Context, tierID uint64) (*types.TierInfo, error) {
	return f.tier, f.tierErr
}

func (f *fakeReader) Price(ctx context.Context, tierID, days uint64) (*big.Int, error) {
	return f.price, nil
}

func (f *fakeReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return f.decimals, nil
}

type rejection struct{}

func (rejection) Error() string  { return "User rejected the request." }
func (rejection) ErrorCode() int { return 4001 }

func activeReader() *fakeReader {
	return &fakeReader{
		tier: &types.TierInfo{
			MinDays:          30,
			MaxDays:          365,
			PaymentToken:     usdc,
			TokenPricePerDay: big.NewInt(316666),
			IsActive:         true,
		},
		price:    big.NewInt(9_500_000),
		decimals: 6,
	}
}

type fixture struct {
	machine  *Machine
	wallet   *fakeWallet
	notifier *fakeNotifier
	reader   *fakeReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wallet := &fakeWallet{accounts: []common.Address{account}, chainID: baseChain}
	notifier := &fakeNotifier{}
	reader := activeReader()
	m := NewMachine(Config{
		ChainID:       baseChain,
		TierID:        1,
		Days:          30,
		PollInterval:  time.Millisecond,
		MaxPollErrors: 3,
		ExplorerTxURL: "https://basescan.org/tx/",
	}, wallet, pricing.NewResolver(reader, usdc, big.NewInt(500_000)), txbuilder.NewBuilder(registry, feeTo), notifier)
	return &fixture{machine: m, wallet: wallet, notifier: notifier, reader: reader}
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	_, err := f.machine.RefreshQuote(context.Background())
	require.NoError(t, err)
}

func wait(t *testing.T, sub *Submission) *Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := sub.Wait(ctx)
	require.NoError(t, err)
	return outcome
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.machine.Flush(ctx))
}

func TestDerivedStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wallet.accounts = nil
	assert.Equal(t, types.StateDisconnected, f.machine.State(ctx))

	require.NoError(t, f.machine.Connect(ctx))
	f.wallet.chainID = 1
	assert.Equal(t, types.StateWrongNetwork, f.machine.State(ctx))

	require.NoError(t, f.machine.SwitchNetwork(ctx))
	assert.Equal(t, types.StateReady, f.machine.State(ctx))
}

func TestSubmitSuccessSelf(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	hash := common.HexToHash("0x1234")
	f.wallet.setStatuses(
		types.BatchStatus{Status: types.CallsPending},
		types.BatchStatus{Status: types.CallsConfirmed, TxHash: &hash},
	)

	sub, err := f.machine.Submit(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, "0xbatch", sub.BatchID)

	outcome := wait(t, sub)
	assert.Equal(t, types.StateSuccess, outcome.State)
	assert.Equal(t, "0xbatch", outcome.BatchID)
	assert.Equal(t, "https://basescan.org/tx/"+hash.Hex(), outcome.ExplorerURL)
	assert.Equal(t, types.StateSuccess, f.machine.State(context.Background()))

	f.flush(t)
	successes, errs := f.notifier.snapshot()
	assert.Equal(t, []bool{false}, successes)
	assert.Empty(t, errs)

	require.Len(t, f.wallet.sentCalls, 1)
	calls := f.wallet.sentCalls[0]
	require.Len(t, calls, 3)
	assert.Equal(t, usdc, calls[0].To)
	assert.Equal(t, registry, calls[1].To)
	assert.Equal(t, usdc, calls[2].To)
}

func TestSubmitSuccessGift(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	f.wallet.setStatuses(types.BatchStatus{Status: types.CallsConfirmed})

	sub, err := f.machine.Submit(context.Background(), 100, 200)
	require.NoError(t, err)

	outcome := wait(t, sub)
	assert.Equal(t, types.StateSuccess, outcome.State)
	assert.True(t, outcome.Intent.IsGift())
	assert.Empty(t, outcome.ExplorerURL)

	f.flush(t)
	successes, _ := f.notifier.snapshot()
	assert.Equal(t, []bool{true}, successes)
}

func TestSubmitGuardOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.wallet.accounts = nil
		_, err := f.machine.Submit(ctx, 0, 0)
		assert.Equal(t, errors.KindWalletNotConnected, errors.KindOf(err))
	})

	t.Run("wrong network", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		f.wallet.chainID = 10
		_, err := f.machine.Submit(ctx, 0, 0)
		assert.Equal(t, errors.KindWrongNetwork, errors.KindOf(err))
	})

	t.Run("no quote", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.machine.Submit(ctx, 0, 0)
		assert.Equal(t, errors.KindQuoteUnavailable, errors.KindOf(err))
	})

	t.Run("ineligible tier", func(t *testing.T) {
		f := newFixture(t)
		f.reader.tier.IsActive = false
		_, err := f.machine.RefreshQuote(ctx)
		require.Error(t, err)

		_, err = f.machine.Submit(ctx, 100, 100)
		oe, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.KindTierIneligible, oe.Kind)
		assert.Equal(t, errors.ReasonInactive, oe.Reason)
	})

	t.Run("missing payer", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		_, err := f.machine.Submit(ctx, 0, 100)
		assert.Equal(t, errors.KindMissingIdentity, errors.KindOf(err))
	})

	t.Run("missing beneficiary", func(t *testing.T) {
		f := newFixture(t)
		f.ready(t)
		_, err := f.machine.Submit(ctx, 100, -1)
		assert.Equal(t, errors.KindMissingIdentity, errors.KindOf(err))
	})
}

func TestGuardFailuresDoNotNotifyOrSubmit(t *testing.T) {
	f := newFixture(t)
	f.reader.tier.PaymentToken = common.HexToAddress("0xdead")
	ctx := context.Background()

	_, err := f.machine.RefreshQuote(ctx)
	require.Error(t, err)
	_, err = f.machine.Submit(ctx, 100, 100)
	require.Error(t, err)

	f.flush(t)
	successes, errs := f.notifier.snapshot()
	assert.Empty(t, successes)
	assert.Empty(t, errs)
	assert.Empty(t, f.wallet.sentCalls)
	assert.Equal(t, types.StateReady, f.machine.State(ctx))
}

func TestReadFailureNotifiesOperator(t *testing.T) {
	f := newFixture(t)
	f.reader.tierErr = stderrors.New("execution reverted")

	_, err := f.machine.RefreshQuote(context.Background())
	require.Error(t, err)

	f.flush(t)
	_, errs := f.notifier.snapshot()
	assert.Equal(t, []string{string(errors.KindReadFailed)}, errs)

	_, err = f.machine.Submit(context.Background(), 100, 100)
	assert.Equal(t, errors.KindQuoteUnavailable, errors.KindOf(err))
}

func TestSubmitWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	sub, err := f.machine.Submit(ctx, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StateAwaitingConfirmation, f.machine.State(ctx))

	_, err = f.machine.Submit(ctx, 100, 100)
	assert.Equal(t, errors.KindSubmissionInFlight, errors.KindOf(err))
	assert.Len(t, f.wallet.sentCalls, 1)

	f.wallet.setStatuses(types.BatchStatus{Status: types.CallsConfirmed})
	wait(t, sub)

	sub, err = f.machine.Submit(ctx, 100, 100)
	require.NoError(t, err, "a new submit is allowed after a terminal outcome")
	sub.Abandon()
}

func TestSubmitRejected(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	f.wallet.sendErr = rejection{}

	sub, err := f.machine.Submit(context.Background(), 100, 100)
	require.NoError(t, err)

	outcome := wait(t, sub)
	assert.Equal(t, types.StateFailed, outcome.State)
	assert.Equal(t, errors.KindSubmissionRejected, errors.KindOf(outcome.Err))

	f.flush(t)
	_, errs := f.notifier.snapshot()
	assert.Equal(t, []string{string(errors.KindSubmissionRejected)}, errs)
}

func TestSubmitImmediateWalletError(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	f.wallet.sendErr = stderrors.New("insufficient funds")

	sub, err := f.machine.Submit(context.Background(), 100, 100)
	require.NoError(t, err)

	outcome := wait(t, sub)
	assert.Equal(t, types.StateFailed, outcome.State)
	assert.Equal(t, errors.KindSubmissionFailed, errors.KindOf(outcome.Err))
	assert.Empty(t, outcome.BatchID)
}

func TestSubmitReverted(t *testing.T) {
	for _, status := range []types.CallsStatus{types.CallsReverted, types.CallsPartial, types.CallsFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			f.ready(t)
			hash := common.HexToHash("0xbeef")
			f.wallet.setStatuses(types.BatchStatus{Status: status, TxHash: &hash, Detail: string(status)})

			sub, err := f.machine.Submit(context.Background(), 100, 200)
			require.NoError(t, err)

			outcome := wait(t, sub)
			assert.Equal(t, types.StateFailed, outcome.State)
			assert.Equal(t, errors.KindSubmissionFailed, errors.KindOf(outcome.Err))
			assert.Equal(t, "https://basescan.org/tx/"+hash.Hex(), outcome.ExplorerURL)

			f.flush(t)
	successes, errs := f.notifier.snapshot()
			assert.Empty(t, successes)
			assert.Equal(t, []string{string(errors.KindSubmissionFailed)}, errs)
		})
	}
}

func TestLostBatchFails(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	f.wallet.pollErr = stderrors.New("connection reset")

	sub, err := f.machine.Submit(context.Background(), 100, 100)
	require.NoError(t, err)

	outcome := wait(t, sub)
	assert.Equal(t, types.StateFailed, outcome.State)
	assert.Equal(t, "0xbatch", outcome.BatchID)
}

func TestAbandonDropsOutcome(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	sub, err := f.machine.Submit(ctx, 100, 100)
	require.NoError(t, err)

	sub.Abandon()
	<-sub.Done()
	_, err = sub.Wait(ctx)
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Equal(t, types.StateReady, f.machine.State(ctx))

	f.wallet.setStatuses(types.BatchStatus{Status: types.CallsConfirmed})
	time.Sleep(20 * time.Millisecond)

	f.flush(t)
	successes, errs := f.notifier.snapshot()
	assert.Empty(t, successes)
	assert.Empty(t, errs)
	assert.Nil(t, f.machine.LastOutcome())

	sub.Abandon()
}

func TestClearOutcome(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	f.wallet.setStatuses(types.BatchStatus{Status: types.CallsConfirmed})

	sub, err := f.machine.Submit(context.Background(), 100, 100)
	require.NoError(t, err)
	wait(t, sub)

	require.NotNil(t, f.machine.LastOutcome())
	f.machine.ClearOutcome()
	assert.Equal(t, types.StateReady, f.machine.State(context.Background()))
}

type slowNotifier struct {
	fakeNotifier
	delay time.Duration
}

func (n *slowNotifier) NotifySuccess(ctx context.Context, payer, beneficiary types.FID, isGift bool) {
	time.Sleep(n.delay)
	n.fakeNotifier.NotifySuccess(ctx, payer, beneficiary, isGift)
}

func (n *slowNotifier) NotifyError(ctx context.Context, category, message string) bool {
	time.Sleep(n.delay)
	return n.fakeNotifier.NotifyError(ctx, category, message)
}

func TestSlowNotificationsDoNotBlockPurchase(t *testing.T) {
	const delay = time.Second
	newSlowFixture := func(t *testing.T) (*fixture, *slowNotifier) {
		f := newFixture(t)
		slow := &slowNotifier{delay: delay}
		f.machine.notifier = slow
		f.ready(t)
		return f, slow
	}

	t.Run("immediate wallet error", func(t *testing.T) {
		f, slow := newSlowFixture(t)
		f.wallet.sendErr = stderrors.New("boom")

		start := time.Now()
		sub, err := f.machine.Submit(context.Background(), 100, 100)
		require.NoError(t, err)
		outcome := wait(t, sub)
		assert.Less(t, time.Since(start), delay/2)
		assert.Equal(t, types.StateFailed, outcome.State)

		f.flush(t)
		_, errs := slow.snapshot()
		assert.Equal(t, []string{string(errors.KindSubmissionFailed)}, errs)
	})

	t.Run("confirmed gift", func(t *testing.T) {
		f, slow := newSlowFixture(t)
		f.wallet.setStatuses(types.BatchStatus{Status: types.CallsConfirmed})

		start := time.Now()
		sub, err := f.machine.Submit(context.Background(), 100, 200)
		require.NoError(t, err)
		outcome := wait(t, sub)
		assert.Less(t, time.Since(start), delay/2)
		assert.Equal(t, types.StateSuccess, outcome.State)

		f.flush(t)
		successes, _ := slow.snapshot()
		assert.Equal(t, []bool{true}, successes)
	})

	t.Run("quote read failure", func(t *testing.T) {
		f, slow := newSlowFixture(t)
		f.reader.tierErr = stderrors.New("execution reverted")

		start := time.Now()
		_, err := f.machine.RefreshQuote(context.Background())
		require.Error(t, err)
		assert.Less(t, time.Since(start), delay/2)

		f.flush(t)
		_, errs := slow.snapshot()
		assert.Equal(t, []string{string(errors.KindReadFailed)}, errs)
	})
}
