// Package payment carries x402 micropayment intents and receipts between
// agents. Settlement truth stays on-chain behind the Verifier boundary.
package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/babylon-markets/a2a/types"
)

// Exchange errors.
var (
	ErrUnknownRequest = errors.New("payment: no matching request")
	ErrExpired        = errors.New("payment: request expired")
	ErrWrongPayer     = errors.New("payment: receipt submitted by an agent the request was not addressed to")
	ErrBadTxHash      = errors.New("payment: malformed transaction hash")
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Verifier is the external collaborator that checks a settlement claim
// on-chain. A submitted receipt is never trusted on its own.
type Verifier interface {
	Confirm(ctx context.Context, receipt *types.PaymentReceipt) (bool, error)
}

// Exchange tracks open payment requests until they are settled or expire.
type Exchange struct {
	mu         sync.Mutex
	requests   map[string]*types.PaymentRequest
	verifier   Verifier
	defaultTTL time.Duration
	now        func() time.Time
}

// NewExchange creates an exchange. verifier may be nil, in which case
// receipts are accepted but reported unverified.
func NewExchange(verifier Verifier, defaultTTL time.Duration) *Exchange {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Exchange{
		requests:   make(map[string]*types.PaymentRequest),
		verifier:   verifier,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// CreateRequest opens a payment request from one agent to another. A zero
// ttl uses the exchange default.
func (e *Exchange) CreateRequest(from, to, service string, amount float64, metadata map[string]string, ttl time.Duration) (*types.PaymentRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment: amount must be positive, got %v", amount)
	}
	if to == "" || to == from {
		return nil, fmt.Errorf("payment: invalid recipient %q", to)
	}
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	req := &types.PaymentRequest{
		RequestID: uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Service:   service,
		Metadata:  metadata,
		ExpiresAt: e.now().Add(ttl),
	}

	e.mu.Lock()
	e.requests[req.RequestID] = req
	e.mu.Unlock()
	return req, nil
}

// SubmitReceipt settles a request with a transaction hash. Only accepted
// while the matching request is unexpired, and only from the agent the
// request was addressed to. The expired entry is removed on rejection so
// the table never grows unbounded.
func (e *Exchange) SubmitReceipt(ctx context.Context, requestID, txHash, payer string) (*types.ReceiptResult, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, ErrBadTxHash
	}

	e.mu.Lock()
	req, ok := e.requests[requestID]
	switch {
	case !ok:
		e.mu.Unlock()
		return nil, ErrUnknownRequest
	case req.Expired(e.now()):
		delete(e.requests, requestID)
		e.mu.Unlock()
		return nil, ErrExpired
	case payer != req.To:
		// State faults must not mutate: the request stays open for the
		// rightful payer.
		e.mu.Unlock()
		return nil, ErrWrongPayer
	}
	delete(e.requests, requestID)
	e.mu.Unlock()

	receipt := &types.PaymentReceipt{
		RequestID: requestID,
		TxHash:    txHash,
		From:      req.To, // payer
		To:        req.From,
		Amount:    req.Amount,
		Timestamp: e.now(),
	}

	if e.verifier == nil {
		return &types.ReceiptResult{
			Verified: false,
			Message:  "receipt accepted; on-chain confirmation pending",
			Receipt:  receipt,
		}, nil
	}

	confirmed, err := e.verifier.Confirm(ctx, receipt)
	if err != nil {
		return &types.ReceiptResult{
			Verified: false,
			Message:  fmt.Sprintf("receipt accepted; confirmation unavailable: %v", err),
			Receipt:  receipt,
		}, nil
	}
	receipt.Confirmed = confirmed
	msg := "transaction not yet confirmed on-chain"
	if confirmed {
		msg = "transaction confirmed on-chain"
	}
	return &types.ReceiptResult{Verified: confirmed, Message: msg, Receipt: receipt}, nil
}

// Request returns an open request by id, or nil.
func (e *Exchange) Request(requestID string) *types.PaymentRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return nil
	}
	clone := *req
	return &clone
}

// SweepExpired drops expired requests and returns how many were removed.
func (e *Exchange) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	removed := 0
	for id, req := range e.requests {
		if req.Expired(now) {
			delete(e.requests, id)
			removed++
		}
	}
	return removed
}

// Open returns the number of open requests.
func (e *Exchange) Open() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}
