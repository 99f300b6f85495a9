package types

import "time"

// Market is reference market data served through a2a.getMarketData.
type Market struct {
	ID          string    `json:"id"`
	Question    string    `json:"question,omitempty"`
	Ticker      string    `json:"ticker,omitempty"`
	Kind        string    `json:"kind"` // "prediction" or "perp"
	YesPrice    float64   `json:"yesPrice,omitempty"`
	NoPrice     float64   `json:"noPrice,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Volume24h   float64   `json:"volume24h,omitempty"`
	Liquidity   float64   `json:"liquidity,omitempty"`
	Status      string    `json:"status"`
	ResolvesAt  time.Time `json:"resolvesAt,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MarketUpdate is pushed to subscribers of a market.
type MarketUpdate struct {
	MarketID  string    `json:"marketId"`
	YesPrice  float64   `json:"yesPrice,omitempty"`
	NoPrice   float64   `json:"noPrice,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Event     string    `json:"event,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketSubscription records one agent's interest in one market.
type MarketSubscription struct {
	MarketID     string    `json:"marketId"`
	AgentID      string    `json:"agentId"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// MarketAnalysis is an analyst's published view of a market. Prediction and
// Confidence are clamped to [0,1] at the wire boundary.
type MarketAnalysis struct {
	MarketID   string         `json:"marketId"`
	Analyst    string         `json:"analyst"`
	Prediction float64        `json:"prediction"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	DataPoints map[string]any `json:"dataPoints,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Signature  string         `json:"signature,omitempty"`
}

// AnalysisRequest is broadcast to a market's subscribers when an agent asks
// for fresh analysis.
type AnalysisRequest struct {
	MarketID  string    `json:"marketId"`
	Requester string    `json:"requester"`
	Bounty    float64   `json:"bounty,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
