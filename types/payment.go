package types

import "time"

// PaymentRequest is an x402-style intent to pay for an agent service. It
// carries no settlement authority; the receiving side pays on-chain and
// answers with a receipt.
type PaymentRequest struct {
	RequestID string            `json:"requestId"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Amount    float64           `json:"amount"`
	Service   string            `json:"service"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Expired reports whether the request can no longer be settled.
func (r *PaymentRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// PaymentReceipt is the claim that a request was paid. Confirmed is an
// external on-chain fact; the protocol only carries the claim.
type PaymentReceipt struct {
	RequestID string    `json:"requestId"`
	TxHash    string    `json:"txHash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Confirmed bool      `json:"confirmed"`
}

// ReceiptResult is returned from a2a.paymentReceipt.
type ReceiptResult struct {
	Verified bool            `json:"verified"`
	Message  string          `json:"message"`
	Receipt  *PaymentReceipt `json:"receipt,omitempty"`
}
