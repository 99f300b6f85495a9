// Package registry is the boundary to the external agent identity registry:
// an ERC-721 contract mapping token ids to controlling wallets, plus the
// reputation bookkeeping attached to each token. The engine only reads.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/babylon-markets/a2a/types"
)

// ErrAgentNotFound is returned when a token id has no registered agent.
var ErrAgentNotFound = errors.New("registry: agent not found")

// Registry resolves agent identity and reputation.
type Registry interface {
	// OwnerOf returns the wallet address controlling the agent token.
	OwnerOf(ctx context.Context, tokenID uint64) (string, error)
	// Reputation returns the reputation attached to the agent token.
	Reputation(ctx context.Context, tokenID uint64) (types.Reputation, error)
	// Profile returns the full directory entry for the agent token.
	Profile(ctx context.Context, tokenID uint64) (*types.AgentProfile, error)
}

// StaticRegistry is an in-memory Registry for development and tests.
type StaticRegistry struct {
	mu     sync.RWMutex
	agents map[uint64]*types.AgentProfile
}

// NewStaticRegistry creates an empty static registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{agents: make(map[uint64]*types.AgentProfile)}
}

// Register adds or replaces an agent entry.
func (r *StaticRegistry) Register(profile *types.AgentProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[profile.TokenID] = profile
}

// OwnerOf implements Registry.
func (r *StaticRegistry) OwnerOf(_ context.Context, tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.agents[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: token %d", ErrAgentNotFound, tokenID)
	}
	return profile.Address, nil
}

// Reputation implements Registry.
func (r *StaticRegistry) Reputation(_ context.Context, tokenID uint64) (types.Reputation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.agents[tokenID]
	if !ok {
		return types.Reputation{}, fmt.Errorf("%w: token %d", ErrAgentNotFound, tokenID)
	}
	return profile.Reputation, nil
}

// Profile implements Registry.
func (r *StaticRegistry) Profile(_ context.Context, tokenID uint64) (*types.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.agents[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", ErrAgentNotFound, tokenID)
	}
	clone := *profile
	return &clone, nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
