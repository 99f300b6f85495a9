// Package subscription tracks which agents follow which markets and answers
// the fan-out question at emission time.
package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/babylon-markets/a2a/types"
)

// Registry is the many-to-many market/agent subscription table.
type Registry struct {
	mu       sync.RWMutex
	byMarket map[string]map[string]time.Time // marketID -> agentID -> subscribedAt
	byAgent  map[string]map[string]struct{}  // agentID -> marketIDs
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		byMarket: make(map[string]map[string]time.Time),
		byAgent:  make(map[string]map[string]struct{}),
	}
}

// Subscribe registers interest. Subscribing twice keeps the original
// subscription time.
func (r *Registry) Subscribe(marketID, agentID string) types.MarketSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents, ok := r.byMarket[marketID]
	if !ok {
		agents = make(map[string]time.Time)
		r.byMarket[marketID] = agents
	}
	at, ok := agents[agentID]
	if !ok {
		at = time.Now()
		agents[agentID] = at
	}

	markets, ok := r.byAgent[agentID]
	if !ok {
		markets = make(map[string]struct{})
		r.byAgent[agentID] = markets
	}
	markets[marketID] = struct{}{}

	return types.MarketSubscription{MarketID: marketID, AgentID: agentID, SubscribedAt: at}
}

// Unsubscribe removes one (market, agent) pair. Unsubscribing when not
// subscribed is a no-op.
func (r *Registry) Unsubscribe(marketID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(marketID, agentID)
}

// DropAgent removes every subscription of an agent, called on disconnect.
func (r *Registry) DropAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for marketID := range r.byAgent[agentID] {
		r.removeLocked(marketID, agentID)
	}
}

// Subscribers returns the agents subscribed to a market at this moment,
// sorted for deterministic fan-out order.
func (r *Registry) Subscribers(marketID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := r.byMarket[marketID]
	out := make([]string, 0, len(agents))
	for id := range agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Markets returns the markets an agent is subscribed to.
func (r *Registry) Markets(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byAgent[agentID]))
	for id := range r.byAgent[agentID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of live (market, agent) pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, agents := range r.byMarket {
		n += len(agents)
	}
	return n
}

func (r *Registry) removeLocked(marketID, agentID string) {
	if agents, ok := r.byMarket[marketID]; ok {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(r.byMarket, marketID)
		}
	}
	if markets, ok := r.byAgent[agentID]; ok {
		delete(markets, marketID)
		if len(markets) == 0 {
			delete(r.byAgent, agentID)
		}
	}
}
