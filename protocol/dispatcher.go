package protocol

import (
	"encoding/json"

	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/types"
)

// Events is the closed set of server-push handlers an agent can register.
// Nil handlers drop their events; unrecognized methods go to OnUnknown so a
// newer server never silently loses frames on an older client.
type Events struct {
	OnMarketUpdate          func(types.MarketUpdate)
	OnCoalitionMessage      func(types.CoalitionMessage)
	OnCoalitionMemberJoined func(types.CoalitionEvent)
	OnCoalitionMemberLeft   func(types.CoalitionEvent)
	OnAnalysisShared        func(types.MarketAnalysis)
	OnAnalysisRequested     func(types.AnalysisRequest)
	OnAgentConnected        func(types.PresenceEvent)
	OnAgentDisconnected     func(types.PresenceEvent)
	OnPaymentRequested      func(types.PaymentRequest)
	OnPaymentReceived       func(types.PaymentReceipt)
	OnUnknown               func(method string, params json.RawMessage)
}

// Dispatcher routes inbound notifications to typed handlers.
type Dispatcher struct {
	events Events
	log    *logger.Logger
}

// NewDispatcher creates a dispatcher over a handler set.
func NewDispatcher(events Events, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.New("dispatcher")
	}
	return &Dispatcher{events: events, log: log}
}

// Dispatch decodes the notification params and invokes the matching typed
// handler. Malformed params are logged and dropped; they never tear down
// the connection.
func (d *Dispatcher) Dispatch(n *types.Notification) {
	switch n.Method {
	case types.NotifyMarketUpdate:
		dispatch(d, n, d.events.OnMarketUpdate)
	case types.NotifyCoalitionMessage:
		dispatch(d, n, d.events.OnCoalitionMessage)
	case types.NotifyCoalitionMemberJoined:
		dispatch(d, n, d.events.OnCoalitionMemberJoined)
	case types.NotifyCoalitionMemberLeft:
		dispatch(d, n, d.events.OnCoalitionMemberLeft)
	case types.NotifyAnalysisShared:
		dispatch(d, n, d.events.OnAnalysisShared)
	case types.NotifyAnalysisRequested:
		dispatch(d, n, d.events.OnAnalysisRequested)
	case types.NotifyAgentConnected:
		dispatch(d, n, d.events.OnAgentConnected)
	case types.NotifyAgentDisconnected:
		dispatch(d, n, d.events.OnAgentDisconnected)
	case types.NotifyPaymentRequested:
		dispatch(d, n, d.events.OnPaymentRequested)
	case types.NotifyPaymentReceived:
		dispatch(d, n, d.events.OnPaymentReceived)
	default:
		if d.events.OnUnknown != nil {
			d.events.OnUnknown(n.Method, n.Params)
			return
		}
		d.log.Debug("unhandled notification method %s", n.Method)
	}
}

func dispatch[T any](d *Dispatcher, n *types.Notification, handler func(T)) {
	if handler == nil {
		return
	}
	var payload T
	if err := json.Unmarshal(n.Params, &payload); err != nil {
		d.log.Warn("dropping %s notification with bad params: %v", n.Method, err)
		return
	}
	handler(payload)
}
