// Package coalition implements the propose/join/leave/message state machine
// for named agent coalitions.
package coalition

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/babylon-markets/a2a/types"
)

// State machine errors.
var (
	ErrNotFound  = errors.New("coalition: not found")
	ErrFull      = errors.New("coalition: membership is full")
	ErrClosed    = errors.New("coalition: closed to new members")
	ErrNotMember = errors.New("coalition: sender is not a member")
)

type state struct {
	info     types.Coalition
	proposal types.CoalitionProposal
	members  map[string]struct{}
}

// Coordinator owns the coalition table. It has its own lock; nothing else
// in the engine serializes on it.
type Coordinator struct {
	mu         sync.RWMutex
	coalitions map[string]*state
	now        func() time.Time
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		coalitions: make(map[string]*state),
		now:        time.Now,
	}
}

// Propose creates a coalition from a proposal. The proposer becomes the
// first member. openFor bounds how long the coalition accepts joins.
func (c *Coordinator) Propose(proposer, name, targetMarket, strategy string, minMembers, maxMembers int, openFor time.Duration) (*types.Coalition, error) {
	if name == "" || targetMarket == "" {
		return nil, fmt.Errorf("coalition: name and target market are required")
	}
	if minMembers < 1 || maxMembers < minMembers {
		return nil, fmt.Errorf("coalition: invalid member bounds [%d, %d]", minMembers, maxMembers)
	}
	if openFor <= 0 {
		openFor = time.Hour
	}

	now := c.now()
	st := &state{
		info: types.Coalition{
			ID:           uuid.NewString(),
			Name:         name,
			Strategy:     strategy,
			TargetMarket: targetMarket,
			CreatedAt:    now,
			Active:       true,
		},
		proposal: types.CoalitionProposal{
			Proposer:     proposer,
			TargetMarket: targetMarket,
			Strategy:     strategy,
			MinMembers:   minMembers,
			MaxMembers:   maxMembers,
			ExpiresAt:    now.Add(openFor),
		},
		members: map[string]struct{}{proposer: {}},
	}

	c.mu.Lock()
	c.coalitions[st.info.ID] = st
	c.mu.Unlock()

	return c.snapshotLocked(st), nil
}

// Join adds agentID to the coalition. Joining twice is idempotent and
// reported through alreadyMember; joining a full or closed coalition fails.
func (c *Coordinator) Join(coalitionID, agentID string) (coal *types.Coalition, alreadyMember bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.coalitions[coalitionID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if _, member := st.members[agentID]; member {
		return c.snapshotLocked(st), true, nil
	}
	if !st.info.Active || c.now().After(st.proposal.ExpiresAt) {
		return nil, false, ErrClosed
	}
	if len(st.members) >= st.proposal.MaxMembers {
		return nil, false, ErrFull
	}

	st.members[agentID] = struct{}{}
	return c.snapshotLocked(st), false, nil
}

// Leave removes agentID. Leaving a coalition one is not a member of is a
// no-op success. The coalition flips inactive exactly when its membership
// reaches zero; it is never deleted.
func (c *Coordinator) Leave(coalitionID, agentID string) (coal *types.Coalition, wasMember bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.coalitions[coalitionID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if _, member := st.members[agentID]; !member {
		return c.snapshotLocked(st), false, nil
	}

	delete(st.members, agentID)
	if len(st.members) == 0 {
		st.info.Active = false
	}
	return c.snapshotLocked(st), true, nil
}

// Message validates a coalition message from a member and returns the
// recipients: every current member except the sender.
func (c *Coordinator) Message(coalitionID, from, messageType string, content map[string]any) (*types.CoalitionMessage, []string, error) {
	if !types.ValidCoalitionMessageType(messageType) {
		return nil, nil, fmt.Errorf("coalition: unknown message type %q", messageType)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.coalitions[coalitionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if _, member := st.members[from]; !member {
		return nil, nil, ErrNotMember
	}

	recipients := make([]string, 0, len(st.members)-1)
	for id := range st.members {
		if id != from {
			recipients = append(recipients, id)
		}
	}
	sort.Strings(recipients)

	return &types.CoalitionMessage{
		CoalitionID: coalitionID,
		From:        from,
		MessageType: messageType,
		Content:     content,
		Timestamp:   c.now(),
	}, recipients, nil
}

// Get returns a snapshot of one coalition.
func (c *Coordinator) Get(coalitionID string) (*types.Coalition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.coalitions[coalitionID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.snapshotLocked(st), nil
}

// Members returns the current member set of a coalition.
func (c *Coordinator) Members(coalitionID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.coalitions[coalitionID]
	if !ok {
		return nil, ErrNotFound
	}
	members := make([]string, 0, len(st.members))
	for id := range st.members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

// DropAgent removes the agent from every coalition it belongs to, called on
// disconnect. Returns the ids of coalitions it actually left.
func (c *Coordinator) DropAgent(agentID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var left []string
	for id, st := range c.coalitions {
		if _, member := st.members[agentID]; !member {
			continue
		}
		delete(st.members, agentID)
		if len(st.members) == 0 {
			st.info.Active = false
		}
		left = append(left, id)
	}
	sort.Strings(left)
	return left
}

// Count returns how many coalitions exist and how many are active.
func (c *Coordinator) Count() (total, active int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total = len(c.coalitions)
	for _, st := range c.coalitions {
		if st.info.Active {
			active++
		}
	}
	return total, active
}

// snapshotLocked copies the coalition with a sorted member list. Caller
// holds at least a read lock.
func (c *Coordinator) snapshotLocked(st *state) *types.Coalition {
	out := st.info
	out.Members = make([]string, 0, len(st.members))
	for id := range st.members {
		out.Members = append(out.Members, id)
	}
	sort.Strings(out.Members)
	return &out
}
