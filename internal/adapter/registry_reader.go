package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pro-subscriber/internal/contracts"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/types"
)

// ContractCaller executes read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer connects to an RPC endpoint
type Dialer func(ctx context.Context, url string) (ContractCaller, error)

// DialEthClient is the default Dialer backed by ethclient
func DialEthClient(ctx context.Context, url string) (ContractCaller, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// RegistryReader reads tier metadata, prices and token decimals from chain
type RegistryReader struct {
	provider EndpointPool
	dial     Dialer
	registry common.Address

	mu      sync.Mutex
	clients map[string]ContractCaller
}

// NewRegistryReader creates a reader for the registry at the given address
func NewRegistryReader(provider EndpointPool, registry common.Address, dial Dialer) *RegistryReader {
	if dial == nil {
		dial = DialEthClient
	}
	return &RegistryReader{
		provider: provider,
		dial:     dial,
		registry: registry,
		clients:  make(map[string]ContractCaller),
	}
}

// TierInfo reads tierInfo(tierID)
func (r *RegistryReader) TierInfo(ctx context.Context, tierID uint64) (*types.TierInfo, error) {
	data, err := contracts.TierRegistryABI.Pack(contracts.MethodTierInfo, new(big.Int).SetUint64(tierID))
	if err != nil {
		return nil, NewAdapterError(contracts.MethodTierInfo, err, nil)
	}

	out, err := r.call(ctx, contracts.MethodTierInfo, r.registry, data)
	if err != nil {
		return nil, err
	}

	info, err := contracts.DecodeTierInfo(out)
	if err != nil {
		return nil, NewAdapterError(contracts.MethodTierInfo, fmt.Errorf("%w: %v", ErrInvalidResponse, err), nil)
	}
	return info, nil
}

// Price reads price(tierID, days)
func (r *RegistryReader) Price(ctx context.Context, tierID, days uint64) (*big.Int, error) {
	data, err := contracts.TierRegistryABI.Pack(contracts.MethodPrice,
		new(big.Int).SetUint64(tierID), new(big.Int).SetUint64(days))
	if err != nil {
		return nil, NewAdapterError(contracts.MethodPrice, err, nil)
	}

	out, err := r.call(ctx, contracts.MethodPrice, r.registry, data)
	if err != nil {
		return nil, err
	}

	price, err := contracts.DecodePrice(out)
	if err != nil {
		return nil, NewAdapterError(contracts.MethodPrice, fmt.Errorf("%w: %v", ErrInvalidResponse, err), nil)
	}
	return price, nil
}

// Decimals reads decimals() on the token
func (r *RegistryReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := contracts.ERC20ABI.Pack(contracts.MethodDecimals)
	if err != nil {
		return 0, NewAdapterError(contracts.MethodDecimals, err, nil)
	}

	out, err := r.call(ctx, contracts.MethodDecimals, token, data)
	if err != nil {
		return 0, err
	}

	decimals, err := contracts.DecodeDecimals(out)
	if err != nil {
		return 0, NewAdapterError(contracts.MethodDecimals, fmt.Errorf("%w: %v", ErrInvalidResponse, err), nil)
	}
	return decimals, nil
}

// call runs an eth_call on the current endpoint, failing over once on transport-level errors
func (r *RegistryReader) call(ctx context.Context, op string, to common.Address, data []byte) ([]byte, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"op": op,
		"to": to.Hex(),
	})

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		url, err := r.provider.GetCurrentURL()
		if err != nil {
			return nil, NewAdapterError(op, err, nil)
		}

		client, err := r.clientFor(ctx, url)
		if err == nil {
			start := time.Now()
			var out []byte
			out, err = client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
			if err == nil {
				r.provider.RecordSuccess(time.Since(start))
				return out, nil
			}
		}

		r.provider.RecordFailure(err)
		lastErr = err

		if attempt > 0 || !ShouldFailover(err) || ctx.Err() != nil {
			break
		}
		if failErr := r.provider.Failover(); failErr != nil {
			break
		}
		logger.WithError(err).Warn("RPC call failed, failing over")
	}

	logger.WithFields(r.provider.GetHealth().Fields()).WithError(lastErr).Warn("RPC read failed")
	return nil, NewAdapterError(op, lastErr, nil)
}

func (r *RegistryReader) clientFor(ctx context.Context, url string) (ContractCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[url]; ok {
		return client, nil
	}

	client, err := r.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrProviderUnavailable, url, err)
	}
	r.clients[url] = client
	return client, nil
}

// Close closes every dialed client
func (r *RegistryReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for url, client := range r.clients {
		if c, ok := client.(interface{ Close() }); ok {
			c.Close()
		}
		delete(r.clients, url)
	}
}
