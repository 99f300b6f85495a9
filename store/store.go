// Package store holds published market analyses. Retention (most-recent N
// per market, time-boxed TTL) is a property of the store, not the protocol.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/babylon-markets/a2a/types"
)

// AnalysisStore is the engine's boundary to the analysis archive.
type AnalysisStore interface {
	// Append records an analysis for its market.
	Append(ctx context.Context, analysis *types.MarketAnalysis) error
	// ByMarket returns the most recent analyses for a market, newest first.
	ByMarket(ctx context.Context, marketID string, limit int) ([]types.MarketAnalysis, error)
	// Close releases backing resources.
	Close() error
}

// MemoryStore is the default in-process AnalysisStore.
type MemoryStore struct {
	mu           sync.RWMutex
	byMarket     map[string][]types.MarketAnalysis
	maxPerMarket int
	ttl          time.Duration
	now          func() time.Time
}

// NewMemoryStore creates a bounded in-memory store. maxPerMarket <= 0
// defaults to 100; ttl <= 0 disables time-based eviction.
func NewMemoryStore(maxPerMarket int, ttl time.Duration) *MemoryStore {
	if maxPerMarket <= 0 {
		maxPerMarket = 100
	}
	return &MemoryStore{
		byMarket:     make(map[string][]types.MarketAnalysis),
		maxPerMarket: maxPerMarket,
		ttl:          ttl,
		now:          time.Now,
	}
}

// Append implements AnalysisStore.
func (s *MemoryStore) Append(_ context.Context, analysis *types.MarketAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.byMarket[analysis.MarketID], *analysis)
	entries = s.prune(entries)
	if len(entries) > s.maxPerMarket {
		entries = entries[len(entries)-s.maxPerMarket:]
	}
	s.byMarket[analysis.MarketID] = entries
	return nil
}

// ByMarket implements AnalysisStore.
func (s *MemoryStore) ByMarket(_ context.Context, marketID string, limit int) ([]types.MarketAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.prune(s.byMarket[marketID])
	out := make([]types.MarketAnalysis, len(entries))
	copy(out, entries)

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements AnalysisStore.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) prune(entries []types.MarketAnalysis) []types.MarketAnalysis {
	if s.ttl <= 0 {
		return entries
	}
	cutoff := s.now().Add(-s.ttl)
	kept := make([]types.MarketAnalysis, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
