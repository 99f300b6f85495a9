package types

import "time"

// AgentCredentials proves control of an on-chain agent identity. The
// signature covers the canonical challenge string built from Address,
// TokenID and Timestamp (Unix milliseconds).
type AgentCredentials struct {
	Address   string `json:"address"`
	TokenID   uint64 `json:"tokenId"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// AgentCapabilities is advertised once at handshake and immutable for the
// life of the connection.
type AgentCapabilities struct {
	Strategies  []string `json:"strategies"`
	Markets     []string `json:"markets"`
	Actions     []string `json:"actions"`
	Version     string   `json:"version"`
	X402Support bool     `json:"x402Support,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	UserType    string   `json:"userType,omitempty"`
}

// Reputation is read from the external identity registry.
type Reputation struct {
	TrustScore   float64 `json:"trustScore"`
	TotalTrades  int     `json:"totalTrades,omitempty"`
	SuccessRate  float64 `json:"successRate,omitempty"`
	LastActivity int64   `json:"lastActivity,omitempty"`
}

// AgentProfile is read-only reference data sourced from the identity
// registry, enriched with live connection info by the server.
type AgentProfile struct {
	TokenID      uint64            `json:"tokenId"`
	Address      string            `json:"address"`
	Name         string            `json:"name"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Capabilities AgentCapabilities `json:"capabilities"`
	Reputation   Reputation        `json:"reputation"`
	IsActive     bool              `json:"isActive"`
}

// HandshakeParams is the payload of a2a.handshake.
type HandshakeParams struct {
	Credentials  AgentCredentials  `json:"credentials"`
	Capabilities AgentCapabilities `json:"capabilities"`
}

// HandshakeResult is returned on a successful handshake.
type HandshakeResult struct {
	AgentID      string `json:"agentId"`
	SessionToken string `json:"sessionToken"`
	ExpiresAt    int64  `json:"expiresAt"`
	HeartbeatMs  int64  `json:"heartbeatMs"`
}

// PresenceEvent announces an agent connecting to or leaving the mesh.
type PresenceEvent struct {
	AgentID      string            `json:"agentId"`
	Address      string            `json:"address,omitempty"`
	Capabilities AgentCapabilities `json:"capabilities,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}
