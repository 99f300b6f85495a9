package protocol

import (
	"encoding/json"
	"testing"

	"github.com/babylon-markets/a2a/types"
)

func mustNotification(t *testing.T, method string, params any) *types.Notification {
	t.Helper()
	n, err := types.NewNotification(method, params)
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	return n
}

func TestDispatcherRoutesByMethod(t *testing.T) {
	var gotUpdate *types.MarketUpdate
	var gotMsg *types.CoalitionMessage

	d := NewDispatcher(Events{
		OnMarketUpdate:     func(u types.MarketUpdate) { gotUpdate = &u },
		OnCoalitionMessage: func(m types.CoalitionMessage) { gotMsg = &m },
	}, nil)

	d.Dispatch(mustNotification(t, types.NotifyMarketUpdate, types.MarketUpdate{MarketID: "MKT-1", YesPrice: 0.62}))
	d.Dispatch(mustNotification(t, types.NotifyCoalitionMessage, types.CoalitionMessage{CoalitionID: "c-1", MessageType: types.CoalitionMsgVote}))

	if gotUpdate == nil || gotUpdate.MarketID != "MKT-1" {
		t.Errorf("market update not routed: %+v", gotUpdate)
	}
	if gotMsg == nil || gotMsg.CoalitionID != "c-1" {
		t.Errorf("coalition message not routed: %+v", gotMsg)
	}
}

func TestDispatcherUnknownMethodGoesToDefault(t *testing.T) {
	var unknownMethod string
	d := NewDispatcher(Events{
		OnUnknown: func(method string, _ json.RawMessage) { unknownMethod = method },
	}, nil)

	d.Dispatch(mustNotification(t, "a2a.somethingNew", map[string]string{"k": "v"}))

	if unknownMethod != "a2a.somethingNew" {
		t.Errorf("unknown handler got %q", unknownMethod)
	}
}

func TestDispatcherNilHandlerDoesNotPanic(t *testing.T) {
	d := NewDispatcher(Events{}, nil)
	d.Dispatch(mustNotification(t, types.NotifyAgentConnected, types.PresenceEvent{AgentID: "1:42"}))
	d.Dispatch(mustNotification(t, "a2a.unknown", nil))
}
