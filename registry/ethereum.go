package registry

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/babylon-markets/a2a/resilience"
	"github.com/babylon-markets/a2a/types"
)

// ABI selectors for the registry contract, computed once.
var (
	selOwnerOf       = crypto.Keccak256([]byte("ownerOf(uint256)"))[:4]
	selGetReputation = crypto.Keccak256([]byte("getReputation(uint256)"))[:4]
)

// ChainRegistry resolves agents against the on-chain ERC-721 identity
// registry. Calls go through a circuit breaker so a dead RPC endpoint fails
// handshakes fast instead of stalling every connection.
type ChainRegistry struct {
	client   *ethclient.Client
	contract common.Address
	breaker  *resilience.CircuitBreaker
}

// DialChainRegistry connects to the RPC endpoint and binds the registry
// contract address.
func DialChainRegistry(ctx context.Context, rpcEndpoint, contractAddress string) (*ChainRegistry, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid registry contract address %q", contractAddress)
	}
	client, err := ethclient.DialContext(ctx, rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return &ChainRegistry{
		client:   client,
		contract: common.HexToAddress(contractAddress),
		breaker:  resilience.NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// Close releases the underlying RPC connection.
func (r *ChainRegistry) Close() {
	r.client.Close()
}

func (r *ChainRegistry) call(ctx context.Context, selector []byte, tokenID uint64) ([]byte, error) {
	arg := make([]byte, 32)
	new(big.Int).SetUint64(tokenID).FillBytes(arg)

	msg := ethereum.CallMsg{
		To:   &r.contract,
		Data: append(append([]byte(nil), selector...), arg...),
	}

	var out []byte
	err := r.breaker.Execute(func() error {
		var callErr error
		out, callErr = r.client.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OwnerOf implements Registry via the contract's ownerOf(uint256).
func (r *ChainRegistry) OwnerOf(ctx context.Context, tokenID uint64) (string, error) {
	out, err := r.call(ctx, selOwnerOf, tokenID)
	if err != nil {
		return "", fmt.Errorf("ownerOf(%d): %w", tokenID, err)
	}
	if len(out) != 32 {
		return "", fmt.Errorf("ownerOf(%d): unexpected return length %d", tokenID, len(out))
	}
	addr := common.BytesToAddress(out[12:])
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: token %d", ErrAgentNotFound, tokenID)
	}
	return addr.Hex(), nil
}

// Reputation implements Registry via getReputation(uint256), which returns
// a trust score scaled by 100.
func (r *ChainRegistry) Reputation(ctx context.Context, tokenID uint64) (types.Reputation, error) {
	out, err := r.call(ctx, selGetReputation, tokenID)
	if err != nil {
		return types.Reputation{}, fmt.Errorf("getReputation(%d): %w", tokenID, err)
	}
	if len(out) < 32 {
		return types.Reputation{}, fmt.Errorf("getReputation(%d): unexpected return length %d", tokenID, len(out))
	}
	score := new(big.Int).SetBytes(out[:32])
	return types.Reputation{
		TrustScore: float64(score.Uint64()) / 100,
	}, nil
}

// Profile implements Registry by composing the on-chain reads.
func (r *ChainRegistry) Profile(ctx context.Context, tokenID uint64) (*types.AgentProfile, error) {
	owner, err := r.OwnerOf(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	reputation, err := r.Reputation(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return &types.AgentProfile{
		TokenID:    tokenID,
		Address:    owner,
		Name:       fmt.Sprintf("agent-%d", tokenID),
		Reputation: reputation,
		IsActive:   true,
	}, nil
}
