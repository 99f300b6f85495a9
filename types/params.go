package types

import "time"

// Wire payloads shared by the server handlers and the client's typed calls.

// MarketRef addresses a single market.
type MarketRef struct {
	MarketID string `json:"marketId"`
}

// SubscribeResult answers a2a.subscribeMarket and a2a.unsubscribeMarket.
type SubscribeResult struct {
	MarketID     string    `json:"marketId"`
	Subscribed   bool      `json:"subscribed"`
	SubscribedAt time.Time `json:"subscribedAt,omitempty"`
}

// GetMarketPricesParams selects the markets to snapshot. An empty list means
// every known market.
type GetMarketPricesParams struct {
	MarketIDs []string `json:"marketIds,omitempty"`
}

// MarketPricesResult answers a2a.getMarketPrices.
type MarketPricesResult struct {
	Markets []Market `json:"markets"`
}

// GetInfoParams identifies an agent either by mesh id ("chainId:tokenId") or
// by bare token id.
type GetInfoParams struct {
	AgentID string `json:"agentId,omitempty"`
	TokenID uint64 `json:"tokenId,omitempty"`
}

// DiscoverResult lists the currently connected, authenticated agents.
type DiscoverResult struct {
	Agents []AgentProfile `json:"agents"`
}

// ProposeCoalitionParams is the payload of a2a.proposeCoalition.
type ProposeCoalitionParams struct {
	Name           string `json:"name"`
	TargetMarket   string `json:"targetMarket"`
	Strategy       string `json:"strategy"`
	MinMembers     int    `json:"minMembers"`
	MaxMembers     int    `json:"maxMembers"`
	OpenForSeconds int    `json:"openForSeconds,omitempty"`
}

// CoalitionRef addresses a single coalition.
type CoalitionRef struct {
	CoalitionID string `json:"coalitionId"`
}

// JoinCoalitionResult answers a2a.joinCoalition.
type JoinCoalitionResult struct {
	Coalition     *Coalition `json:"coalition"`
	AlreadyMember bool       `json:"alreadyMember"`
}

// LeaveCoalitionResult answers a2a.leaveCoalition.
type LeaveCoalitionResult struct {
	Coalition *Coalition `json:"coalition"`
	Left      bool       `json:"left"`
}

// CoalitionMessageParams is the payload of a2a.coalitionMessage.
type CoalitionMessageParams struct {
	CoalitionID string         `json:"coalitionId"`
	MessageType string         `json:"messageType"`
	Content     map[string]any `json:"content"`
}

// CoalitionMessageResult reports how many members the message reached.
type CoalitionMessageResult struct {
	Delivered int `json:"delivered"`
}

// ShareAnalysisParams is the payload of a2a.shareAnalysis. Prediction and
// Confidence are clamped to [0,1] by the server.
type ShareAnalysisParams struct {
	MarketID   string         `json:"marketId"`
	Prediction float64        `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	DataPoints map[string]any `json:"dataPoints,omitempty"`
	Signature  string         `json:"signature,omitempty"`
}

// RequestAnalysisParams is the payload of a2a.requestAnalysis.
type RequestAnalysisParams struct {
	MarketID string  `json:"marketId"`
	Bounty   float64 `json:"bounty,omitempty"`
}

// RequestAnalysisResult reports how many subscribers were asked.
type RequestAnalysisResult struct {
	Notified int `json:"notified"`
}

// GetAnalysesParams is the payload of a2a.getAnalyses.
type GetAnalysesParams struct {
	MarketID string `json:"marketId"`
	Limit    int    `json:"limit,omitempty"`
}

// GetAnalysesResult answers a2a.getAnalyses, newest first.
type GetAnalysesResult struct {
	Analyses []MarketAnalysis `json:"analyses"`
}

// PaymentRequestParams is the payload of a2a.paymentRequest.
type PaymentRequestParams struct {
	To         string            `json:"to"`
	Amount     float64           `json:"amount"`
	Service    string            `json:"service"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

// PaymentReceiptParams is the payload of a2a.paymentReceipt.
type PaymentReceiptParams struct {
	RequestID string `json:"requestId"`
	TxHash    string `json:"txHash"`
}
