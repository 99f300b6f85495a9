// Package ratelimit gates every inbound method call per agent and method
// class before any protocol state is touched.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Method classes. Handshakes are limited by claimed address since no agent
// id exists yet.
const (
	ClassAuth      = "auth"
	ClassMarket    = "market"
	ClassCoalition = "coalition"
	ClassAnalysis  = "analysis"
	ClassPayment   = "payment"
	ClassDiscovery = "discovery"
)

// Rule is the refill rate and burst size for one method class.
type Rule struct {
	RPS   float64
	Burst int
}

type bucketKey struct {
	agentID string
	class   string
}

// Limiter holds one token bucket per (agent, class) pair.
type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	buckets map[bucketKey]*rate.Limiter
}

// New creates a limiter from per-class rules. Classes without a rule are
// unlimited.
func New(rules map[string]Rule) *Limiter {
	return &Limiter{
		rules:   rules,
		buckets: make(map[bucketKey]*rate.Limiter),
	}
}

// Allow reports whether the call may proceed and consumes a token if so.
func (l *Limiter) Allow(agentID, class string) bool {
	rule, ok := l.rules[class]
	if !ok {
		return true
	}

	l.mu.Lock()
	key := bucketKey{agentID: agentID, class: class}
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(rule.RPS), rule.Burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// Forget drops all buckets belonging to an agent, called on disconnect so
// the table stays bounded by connected agents.
func (l *Limiter) Forget(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.buckets {
		if key.agentID == agentID {
			delete(l.buckets, key)
		}
	}
}
