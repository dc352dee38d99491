// Package main provides a command line client that buys or gifts a Pro subscription
// through a connected wallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pro-subscriber/internal/adapter"
	"github.com/pro-subscriber/internal/config"
	"github.com/pro-subscriber/internal/lifecycle"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/notify"
	"github.com/pro-subscriber/internal/pricing"
	"github.com/pro-subscriber/internal/retry"
	"github.com/pro-subscriber/internal/session"
	"github.com/pro-subscriber/internal/txbuilder"
	"github.com/pro-subscriber/internal/types"
)

func main() {
	payer := flag.Int64("payer", 0, "FID paying for the subscription")
	beneficiary := flag.Int64("for", 0, "FID receiving the subscription (defaults to -payer)")
	statusOnly := flag.Bool("status", false, "print the time left on -payer's subscription and exit")
	timeout := flag.Duration("timeout", 10*time.Minute, "how long to wait for confirmation")
	flag.Parse()

	if *beneficiary == 0 {
		*beneficiary = *payer
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	var status *adapter.StatusClient
	if cfg.Status.BaseURL != "" {
		status = adapter.NewStatusClient(cfg.Status.BaseURL, 10*time.Second)
	}

	if *statusOnly {
		if status == nil {
			logger.Fatal("STATUS_API_URL is required for -status")
		}
		s := session.New(session.Config{OperatorFID: types.FID(cfg.Notify.OperatorFID)}, session.Deps{Status: status})
		left, err := s.Expiry(ctx, types.FID(*payer))
		if err != nil {
			logger.WithError(err).Fatal("Failed to read subscription status")
		}
		fmt.Println(left)
		return
	}

	if err := cfg.ValidatePurchase(); err != nil {
		logger.WithError(err).Fatal("Invalid purchase configuration")
	}

	provider, err := adapter.NewRPCProvider(cfg.Chain.RPCPrimary, cfg.Chain.RPCSecondary)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create RPC provider")
	}
	reader := adapter.NewRegistryReader(provider, common.HexToAddress(cfg.Chain.Registry), adapter.DialEthClient)

	wallet, err := adapter.DialWallet(ctx, cfg.Chain.WalletRPCURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to wallet")
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.Notify.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Notify.MaxRetries
	}

	deps := session.Deps{
		Wallet:   wallet,
		Resolver: pricing.NewResolver(reader, common.HexToAddress(cfg.Chain.USDC), cfg.FixedFeeAmount()),
		Builder:  txbuilder.NewBuilder(common.HexToAddress(cfg.Chain.Registry), common.HexToAddress(cfg.Purchase.FeeRecipient)),
		Sender:   notify.NewRelayClient(cfg.Notify.RelayURL, cfg.Notify.AuthToken, cfg.Notify.Timeout, retryCfg),
	}
	if status != nil {
		deps.Profiles = status
		deps.Status = status
	}

	s := session.New(session.Config{
		Machine: lifecycle.Config{
			ChainID:       cfg.Chain.ChainID,
			TierID:        cfg.Purchase.TierID,
			Days:          cfg.Purchase.Days,
			PollInterval:  cfg.Purchase.PollInterval,
			ExplorerTxURL: cfg.Chain.ExplorerTxURL,
		},
		OperatorFID: types.FID(cfg.Notify.OperatorFID),
		ContactURL:  cfg.Notify.ContactURL,
		SendTimeout: cfg.Notify.Timeout,
	}, deps)

	code := run(ctx, s, types.FID(*payer), types.FID(*beneficiary), *timeout)

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Notify.Timeout+5*time.Second)
	if err := s.Machine().Flush(flushCtx); err != nil {
		logger.WithError(err).Warn("Exiting before all notifications were delivered")
	}
	cancel()

	wallet.Close()
	reader.Close()
	stop()
	os.Exit(code)
}

// run drives one purchase and returns the process exit code
func run(ctx context.Context, s *session.Session, payer, beneficiary types.FID, timeout time.Duration) int {
	m := s.Machine()

	fail := func(err error) int {
		view := s.Present(err)
		fmt.Fprintf(os.Stderr, "%s\nNeed help? %s\n", view.Message, view.ContactURL)
		return 1
	}

	if m.State(ctx) == types.StateDisconnected {
		if err := m.Connect(ctx); err != nil {
			return fail(err)
		}
	}
	if m.State(ctx) == types.StateWrongNetwork {
		if err := m.SwitchNetwork(ctx); err != nil {
			return fail(err)
		}
	}

	quote, err := m.RefreshQuote(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Pro for %d days: %s\n", quote.Days, quote.Display("USDC"))

	sub, err := m.Submit(ctx, payer, beneficiary)
	if err != nil {
		return fail(err)
	}
	if sub.BatchID != "" {
		fmt.Printf("Submitted batch %s, waiting for confirmation...\n", sub.BatchID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := sub.Wait(waitCtx)
	if err != nil {
		sub.Abandon()
		fmt.Fprintln(os.Stderr, "Stopped waiting; the wallet may still complete the transaction.")
		return 2
	}

	if outcome.State == types.StateFailed {
		code := fail(outcome.Err)
		if outcome.ExplorerURL != "" {
			fmt.Fprintln(os.Stderr, outcome.ExplorerURL)
		}
		return code
	}

	if outcome.Intent.IsGift() {
		fmt.Printf("Gifted Pro to FID %d.\n", beneficiary)
	} else {
		fmt.Println("Subscribed to Pro.")
	}
	if outcome.ExplorerURL != "" {
		fmt.Println(outcome.ExplorerURL)
	}
	return 0
}
