package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pro-subscriber/internal/types"
)

// UserRejectedCode is the EIP-1193 error code for a request the user declined
const UserRejectedCode = 4001

// EIP-5792 batch status codes
const (
	callsStatusPending         = 100
	callsStatusConfirmed       = 200
	callsStatusOffchainFailure = 400
	callsStatusReverted        = 500
	callsStatusPartial         = 600
)

// WalletClient talks to the user's wallet over JSON-RPC
type WalletClient struct {
	client *rpc.Client
}

// DialWallet connects to a wallet JSON-RPC endpoint
func DialWallet(ctx context.Context, url string) (*WalletClient, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, NewAdapterError("dial_wallet", err, map[string]interface{}{"url": url})
	}
	return NewWalletClient(client), nil
}

// NewWalletClient wraps an existing RPC client
func NewWalletClient(client *rpc.Client) *WalletClient {
	return &WalletClient{client: client}
}

// Accounts returns the connected accounts without prompting
func (w *WalletClient) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, NewAdapterError("eth_accounts", err, nil)
	}
	return accounts, nil
}

// RequestAccounts asks the wallet to connect
func (w *WalletClient) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, NewAdapterError("eth_requestAccounts", err, nil)
	}
	return accounts, nil
}

// ChainID returns the chain the wallet is connected to
func (w *WalletClient) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, NewAdapterError("eth_chainId", err, nil)
	}
	return uint64(id), nil
}

// SwitchChainParams is the wallet_switchEthereumChain parameter object
type SwitchChainParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// SwitchChain asks the wallet to switch to chainID
func (w *WalletClient) SwitchChain(ctx context.Context, chainID uint64) error {
	var result interface{}
	params := SwitchChainParams{ChainID: hexutil.Uint64(chainID)}
	if err := w.client.CallContext(ctx, &result, "wallet_switchEthereumChain", params); err != nil {
		return NewAdapterError("wallet_switchEthereumChain", err, map[string]interface{}{"chainId": chainID})
	}
	return nil
}

// SendCallsRequest is the wallet_sendCalls parameter object
type SendCallsRequest struct {
	Version        string           `json:"version"`
	From           common.Address   `json:"from"`
	ChainID        hexutil.Uint64   `json:"chainId"`
	AtomicRequired bool             `json:"atomicRequired"`
	Calls          []SendCallsEntry `json:"calls"`
}

// SendCallsEntry is one call inside wallet_sendCalls
type SendCallsEntry struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
}

// SendCalls submits the calls as one batch and returns the batch id
func (w *WalletClient) SendCalls(ctx context.Context, from common.Address, chainID uint64, calls []types.Call) (string, error) {
	req := SendCallsRequest{
		Version:        "2.0.0",
		From:           from,
		ChainID:        hexutil.Uint64(chainID),
		AtomicRequired: true,
		Calls:          make([]SendCallsEntry, len(calls)),
	}
	for i, c := range calls {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		req.Calls[i] = SendCallsEntry{To: c.To, Data: c.Data, Value: (*hexutil.Big)(value)}
	}

	var raw json.RawMessage
	if err := w.client.CallContext(ctx, &raw, "wallet_sendCalls", req); err != nil {
		return "", NewAdapterError("wallet_sendCalls", err, map[string]interface{}{"calls": len(calls)})
	}

	id, err := parseBatchID(raw)
	if err != nil {
		return "", NewAdapterError("wallet_sendCalls", err, nil)
	}
	return id, nil
}

// parseBatchID accepts both the object result and the older bare-string result
func parseBatchID(raw json.RawMessage) (string, error) {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID != "" {
		return obj.ID, nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: batch id missing in %s", ErrInvalidResponse, string(raw))
}

// CallsStatusResponse is the wallet_getCallsStatus result
type CallsStatusResponse struct {
	ID       string         `json:"id"`
	Status   int            `json:"status"`
	Atomic   bool           `json:"atomic"`
	Receipts []CallsReceipt `json:"receipts,omitempty"`
}

// CallsReceipt is the subset of a receipt the flow uses
type CallsReceipt struct {
	Status          hexutil.Uint64 `json:"status"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

// GetCallsStatus polls the status of a submitted batch
func (w *WalletClient) GetCallsStatus(ctx context.Context, id string) (*types.BatchStatus, error) {
	var resp CallsStatusResponse
	if err := w.client.CallContext(ctx, &resp, "wallet_getCallsStatus", id); err != nil {
		return nil, NewAdapterError("wallet_getCallsStatus", err, map[string]interface{}{"id": id})
	}

	status := &types.BatchStatus{ID: id}
	switch {
	case resp.Status >= callsStatusPending && resp.Status < callsStatusConfirmed:
		status.Status = types.CallsPending
	case resp.Status >= callsStatusConfirmed && resp.Status < 300:
		status.Status = types.CallsConfirmed
	case resp.Status >= callsStatusOffchainFailure && resp.Status < callsStatusReverted:
		status.Status = types.CallsFailed
		status.Detail = "batch was not included on chain"
	case resp.Status >= callsStatusReverted && resp.Status < callsStatusPartial:
		status.Status = types.CallsReverted
		status.Detail = "batch reverted"
	case resp.Status >= callsStatusPartial && resp.Status < 700:
		status.Status = types.CallsPartial
		status.Detail = "batch partially reverted"
	default:
		return nil, NewAdapterError("wallet_getCallsStatus",
			fmt.Errorf("%w: unknown status code %d", ErrInvalidResponse, resp.Status), nil)
	}

	// last receipt carries the hash of the transaction that completed the batch
	if n := len(resp.Receipts); n > 0 {
		hash := resp.Receipts[n-1].TransactionHash
		status.TxHash = &hash
	}

	return status, nil
}

// Close closes the underlying RPC client
func (w *WalletClient) Close() {
	w.client.Close()
}

// IsUserRejection reports whether err is the wallet's user-rejected error
func IsUserRejection(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == UserRejectedCode
}
