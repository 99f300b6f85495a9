package types

import "time"

// Coalition message types. The taxonomy is closed; anything else is
// rejected at the wire boundary.
const (
	CoalitionMsgAnalysis     = "analysis"
	CoalitionMsgVote         = "vote"
	CoalitionMsgAction       = "action"
	CoalitionMsgCoordination = "coordination"
)

// ValidCoalitionMessageType reports whether t is a known message type.
func ValidCoalitionMessageType(t string) bool {
	switch t {
	case CoalitionMsgAnalysis, CoalitionMsgVote, CoalitionMsgAction, CoalitionMsgCoordination:
		return true
	}
	return false
}

// CoalitionProposal captures the bounds a coalition was created with.
type CoalitionProposal struct {
	Proposer     string    `json:"proposer"`
	TargetMarket string    `json:"targetMarket"`
	Strategy     string    `json:"strategy"`
	MinMembers   int       `json:"minMembers"`
	MaxMembers   int       `json:"maxMembers"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Coalition is a named, bounded-membership group coordinating on a target
// market. It is never deleted on departure, only flagged inactive once the
// last member leaves.
type Coalition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Members      []string  `json:"members"`
	Strategy     string    `json:"strategy"`
	TargetMarket string    `json:"targetMarket"`
	CreatedAt    time.Time `json:"createdAt"`
	Active       bool      `json:"active"`
}

// CoalitionMessage fans out to current members of a coalition.
type CoalitionMessage struct {
	CoalitionID string         `json:"coalitionId"`
	From        string         `json:"from"`
	MessageType string         `json:"messageType"`
	Content     map[string]any `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
}

// CoalitionEvent announces membership changes to remaining members.
type CoalitionEvent struct {
	CoalitionID string    `json:"coalitionId"`
	AgentID     string    `json:"agentId"`
	Members     int       `json:"members"`
	Timestamp   time.Time `json:"timestamp"`
}
