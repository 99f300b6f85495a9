package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/babylon-markets/a2a/coalition"
	"github.com/babylon-markets/a2a/payment"
	"github.com/babylon-markets/a2a/protocol"
	"github.com/babylon-markets/a2a/ratelimit"
	"github.com/babylon-markets/a2a/registry"
	"github.com/babylon-markets/a2a/types"
)

// closeDelay gives the write pump a moment to flush a handshake rejection
// before the transport is torn down.
const closeDelay = 250 * time.Millisecond

type handlerFunc func(sess *Session, params json.RawMessage) (any, *types.RPCError)

type methodEntry struct {
	class   string
	handler handlerFunc
}

func (srv *Server) buildMethodTable() map[string]methodEntry {
	return map[string]methodEntry{
		types.MethodDiscover:          {ratelimit.ClassDiscovery, srv.handleDiscover},
		types.MethodGetInfo:           {ratelimit.ClassDiscovery, srv.handleGetInfo},
		types.MethodGetMarketData:     {ratelimit.ClassMarket, srv.handleGetMarketData},
		types.MethodGetMarketPrices:   {ratelimit.ClassMarket, srv.handleGetMarketPrices},
		types.MethodSubscribeMarket:   {ratelimit.ClassMarket, srv.handleSubscribeMarket},
		types.MethodUnsubscribeMarket: {ratelimit.ClassMarket, srv.handleUnsubscribeMarket},
		types.MethodProposeCoalition:  {ratelimit.ClassCoalition, srv.handleProposeCoalition},
		types.MethodJoinCoalition:     {ratelimit.ClassCoalition, srv.handleJoinCoalition},
		types.MethodCoalitionMessage:  {ratelimit.ClassCoalition, srv.handleCoalitionMessage},
		types.MethodLeaveCoalition:    {ratelimit.ClassCoalition, srv.handleLeaveCoalition},
		types.MethodShareAnalysis:     {ratelimit.ClassAnalysis, srv.handleShareAnalysis},
		types.MethodRequestAnalysis:   {ratelimit.ClassAnalysis, srv.handleRequestAnalysis},
		types.MethodGetAnalyses:       {ratelimit.ClassAnalysis, srv.handleGetAnalyses},
		types.MethodPaymentRequest:    {ratelimit.ClassPayment, srv.handlePaymentRequest},
		types.MethodPaymentReceipt:    {ratelimit.ClassPayment, srv.handlePaymentReceipt},
	}
}

// handleRequest runs one inbound request through the gate order: handshake
// is special-cased, everything else is auth-gated, then rate-limited, then
// handled. Gate rejections never mutate protocol state.
func (srv *Server) handleRequest(sess *Session, req *types.Request) {
	if req.Method == types.MethodHandshake {
		srv.handleHandshake(sess, req)
		return
	}

	entry, ok := srv.methods[req.Method]
	if !ok {
		sess.sendResponse(types.NewErrorResponse(req.ID,
			types.Errorf(types.CodeMethodNotFound, "unknown method %s", req.Method)))
		return
	}

	// The connection stays open; the caller may still handshake.
	if !sess.authenticated(time.Now()) {
		sess.sendResponse(types.NewErrorResponse(req.ID,
			types.NewRPCError(types.CodeNotAuthenticated, "handshake required")))
		return
	}

	if !srv.limiter.Allow(sess.agentID, entry.class) {
		sess.sendResponse(types.NewErrorResponse(req.ID,
			types.Errorf(types.CodeRateLimitExceeded, "rate limit exceeded for %s", entry.class)))
		return
	}

	result, rpcErr := entry.handler(sess, req.Params)
	if rpcErr != nil {
		sess.sendResponse(types.NewErrorResponse(req.ID, rpcErr))
		return
	}
	resp, err := types.NewResult(req.ID, result)
	if err != nil {
		srv.log.Error(err, "encode %s result", req.Method)
		sess.sendResponse(types.NewErrorResponse(req.ID,
			types.NewRPCError(types.CodeInternalError, "failed to encode result")))
		return
	}
	sess.sendResponse(resp)
}

// handleHandshake runs the authentication exchange. Authentication faults
// answer with a wire error and then close the connection; the session is
// never left half-authenticated.
func (srv *Server) handleHandshake(sess *Session, req *types.Request) {
	reject := func(rpcErr *types.RPCError, closeConn bool) {
		sess.state = authUnauthenticated
		sess.sendResponse(types.NewErrorResponse(req.ID, rpcErr))
		if closeConn {
			time.AfterFunc(closeDelay, sess.Close)
		}
	}

	switch sess.state {
	case authAuthenticated:
		// Leave the established session untouched.
		sess.sendResponse(types.NewErrorResponse(req.ID,
			types.NewRPCError(types.CodeInvalidRequest, "connection already authenticated")))
		return
	case authAuthenticating:
		// A second handshake while one is in flight is a protocol violation.
		reject(types.NewRPCError(types.CodeAuthenticationFailed, "handshake already in flight"), true)
		return
	}

	var params types.HandshakeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		reject(types.Errorf(types.CodeInvalidParams, "invalid handshake params: %v", err), false)
		return
	}
	creds := params.Credentials

	// No agent id exists yet; the auth bucket is keyed by claimed address.
	if !srv.limiter.Allow(strings.ToLower(creds.Address), ratelimit.ClassAuth) {
		reject(types.NewRPCError(types.CodeRateLimitExceeded, "too many handshake attempts"), false)
		return
	}

	sess.state = authAuthenticating

	if err := srv.validator.Validate(params.Capabilities); err != nil {
		reject(types.Errorf(types.CodeInvalidParams, "invalid capabilities: %v", err), false)
		return
	}

	window := protocol.FreshnessWindow{
		MaxAge:  time.Duration(srv.cfg.AuthMaxAgeSeconds) * time.Second,
		MaxSkew: time.Duration(srv.cfg.AuthMaxSkewSec) * time.Second,
	}
	now := time.Now()
	if err := protocol.VerifyCredentials(creds, now, window); err != nil {
		switch {
		case errors.Is(err, protocol.ErrBadSignature):
			reject(types.Errorf(types.CodeInvalidSignature, "invalid signature: %v", err), true)
		default:
			reject(types.Errorf(types.CodeAuthenticationFailed, "authentication failed: %v", err), true)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout())
	defer cancel()

	owner, err := srv.registry.OwnerOf(ctx, creds.TokenID)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			reject(types.Errorf(types.CodeAgentNotFound, "token %d is not registered", creds.TokenID), true)
		} else {
			reject(types.Errorf(types.CodeInternalError, "registry unavailable: %v", err), false)
		}
		return
	}
	if !registry.SameAddress(owner, creds.Address) {
		reject(types.Errorf(types.CodeAuthenticationFailed,
			"address does not own token %d", creds.TokenID), true)
		return
	}

	sess.state = authAuthenticated
	sess.agentID = fmt.Sprintf("%d:%d", srv.cfg.ChainID, creds.TokenID)
	sess.address = creds.Address
	sess.tokenID = creds.TokenID
	sess.capabilities = params.Capabilities
	sess.sessionToken = uuid.NewString()
	sess.sessionEnd = now.Add(srv.cfg.SessionTTL())
	srv.bindAgent(sess)

	srv.log.Info("agent %s authenticated from %s", sess.agentID, sess.conn.RemoteAddr())

	srv.broadcastPresence(types.NotifyAgentConnected, types.PresenceEvent{
		AgentID:      sess.agentID,
		Address:      sess.address,
		Capabilities: sess.capabilities,
		Timestamp:    now,
	})

	result := types.HandshakeResult{
		AgentID:      sess.agentID,
		SessionToken: sess.sessionToken,
		ExpiresAt:    sess.sessionEnd.UnixMilli(),
		HeartbeatMs:  srv.cfg.Heartbeat().Milliseconds(),
	}
	resp, encErr := types.NewResult(req.ID, result)
	if encErr != nil {
		srv.log.Error(encErr, "encode handshake result")
		return
	}
	sess.sendResponse(resp)
}

func decodeParams[T any](params json.RawMessage, dst *T) *types.RPCError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return types.Errorf(types.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func (srv *Server) handleDiscover(_ *Session, _ json.RawMessage) (any, *types.RPCError) {
	return types.DiscoverResult{Agents: srv.connectedProfiles()}, nil
}

func (srv *Server) handleGetInfo(_ *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.GetInfoParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	tokenID := p.TokenID
	if p.AgentID != "" {
		_, raw, found := strings.Cut(p.AgentID, ":")
		if !found {
			return nil, types.Errorf(types.CodeInvalidParams, "malformed agent id %q", p.AgentID)
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, types.Errorf(types.CodeInvalidParams, "malformed agent id %q", p.AgentID)
		}
		tokenID = id
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout())
	defer cancel()

	profile, err := srv.registry.Profile(ctx, tokenID)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			return nil, types.Errorf(types.CodeAgentNotFound, "agent token %d not found", tokenID)
		}
		return nil, types.Errorf(types.CodeInternalError, "registry lookup failed: %v", err)
	}

	// Overlay live connection facts when the agent is online.
	agentID := fmt.Sprintf("%d:%d", srv.cfg.ChainID, tokenID)
	if live := srv.agentSession(agentID); live != nil {
		profile.Capabilities = live.capabilities
		profile.IsActive = true
	}
	return profile, nil
}

func (srv *Server) handleGetMarketData(_ *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.MarketRef
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	m := srv.markets.Market(p.MarketID)
	if m == nil {
		return nil, types.Errorf(types.CodeMarketNotFound, "market %q not found", p.MarketID)
	}
	return m, nil
}

func (srv *Server) handleGetMarketPrices(_ *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.GetMarketPricesParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	if len(p.MarketIDs) == 0 {
		return types.MarketPricesResult{Markets: srv.markets.List()}, nil
	}
	out := make([]types.Market, 0, len(p.MarketIDs))
	for _, id := range p.MarketIDs {
		if m := srv.markets.Market(id); m != nil {
			out = append(out, *m)
		}
	}
	return types.MarketPricesResult{Markets: out}, nil
}

func (srv *Server) handleSubscribeMarket(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.MarketRef
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if srv.markets.Market(p.MarketID) == nil {
		return nil, types.Errorf(types.CodeMarketNotFound, "market %q not found", p.MarketID)
	}
	sub := srv.subs.Subscribe(p.MarketID, sess.agentID)
	return types.SubscribeResult{
		MarketID:     sub.MarketID,
		Subscribed:   true,
		SubscribedAt: sub.SubscribedAt,
	}, nil
}

func (srv *Server) handleUnsubscribeMarket(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.MarketRef
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	srv.subs.Unsubscribe(p.MarketID, sess.agentID)
	return types.SubscribeResult{MarketID: p.MarketID, Subscribed: false}, nil
}

func (srv *Server) handleProposeCoalition(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.ProposeCoalitionParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	openFor := time.Duration(p.OpenForSeconds) * time.Second
	coal, err := srv.coords.Propose(sess.agentID, p.Name, p.TargetMarket, p.Strategy,
		p.MinMembers, p.MaxMembers, openFor)
	if err != nil {
		return nil, types.Errorf(types.CodeInvalidParams, "%v", err)
	}
	srv.log.Info("coalition %s proposed by %s for market %s", coal.ID, sess.agentID, p.TargetMarket)
	return coal, nil
}

func (srv *Server) handleJoinCoalition(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.CoalitionRef
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	coal, already, err := srv.coords.Join(p.CoalitionID, sess.agentID)
	if err != nil {
		switch {
		case errors.Is(err, coalition.ErrNotFound):
			return nil, types.Errorf(types.CodeCoalitionNotFound, "coalition %q not found", p.CoalitionID)
		case errors.Is(err, coalition.ErrFull):
			return nil, types.NewRPCError(types.CodeInvalidRequest, "coalition is full")
		case errors.Is(err, coalition.ErrClosed):
			return nil, types.NewRPCError(types.CodeInvalidRequest, "coalition is closed to new members")
		}
		return nil, types.AsRPCError(err)
	}

	if !already {
		others := make([]string, 0, len(coal.Members)-1)
		for _, id := range coal.Members {
			if id != sess.agentID {
				others = append(others, id)
			}
		}
		srv.notifyAgents(others, types.NotifyCoalitionMemberJoined, types.CoalitionEvent{
			CoalitionID: coal.ID,
			AgentID:     sess.agentID,
			Members:     len(coal.Members),
			Timestamp:   time.Now(),
		})
	}
	return types.JoinCoalitionResult{Coalition: coal, AlreadyMember: already}, nil
}

func (srv *Server) handleLeaveCoalition(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.CoalitionRef
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	coal, wasMember, err := srv.coords.Leave(p.CoalitionID, sess.agentID)
	if err != nil {
		if errors.Is(err, coalition.ErrNotFound) {
			return nil, types.Errorf(types.CodeCoalitionNotFound, "coalition %q not found", p.CoalitionID)
		}
		return nil, types.AsRPCError(err)
	}

	if wasMember {
		srv.notifyAgents(coal.Members, types.NotifyCoalitionMemberLeft, types.CoalitionEvent{
			CoalitionID: coal.ID,
			AgentID:     sess.agentID,
			Members:     len(coal.Members),
			Timestamp:   time.Now(),
		})
	}
	return types.LeaveCoalitionResult{Coalition: coal, Left: wasMember}, nil
}

func (srv *Server) handleCoalitionMessage(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.CoalitionMessageParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	msg, recipients, err := srv.coords.Message(p.CoalitionID, sess.agentID, p.MessageType, p.Content)
	if err != nil {
		switch {
		case errors.Is(err, coalition.ErrNotFound):
			return nil, types.Errorf(types.CodeCoalitionNotFound, "coalition %q not found", p.CoalitionID)
		case errors.Is(err, coalition.ErrNotMember):
			return nil, types.NewRPCError(types.CodeInvalidRequest, "sender is not a coalition member")
		}
		return nil, types.Errorf(types.CodeInvalidParams, "%v", err)
	}

	delivered := srv.notifyAgents(recipients, types.NotifyCoalitionMessage, msg)
	return types.CoalitionMessageResult{Delivered: delivered}, nil
}

func (srv *Server) handleShareAnalysis(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.ShareAnalysisParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if srv.markets.Market(p.MarketID) == nil {
		return nil, types.Errorf(types.CodeMarketNotFound, "market %q not found", p.MarketID)
	}

	analysis := types.MarketAnalysis{
		MarketID:   p.MarketID,
		Analyst:    sess.agentID,
		Prediction: clamp01(p.Prediction),
		Confidence: clamp01(p.Confidence),
		Reasoning:  p.Reasoning,
		DataPoints: p.DataPoints,
		Timestamp:  time.Now(),
		Signature:  p.Signature,
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout())
	defer cancel()
	if err := srv.analyses.Append(ctx, &analysis); err != nil {
		return nil, types.Errorf(types.CodeInternalError, "store analysis: %v", err)
	}

	audience := exclude(srv.subs.Subscribers(p.MarketID), sess.agentID)
	srv.notifyAgents(audience, types.NotifyAnalysisShared, analysis)
	return analysis, nil
}

func (srv *Server) handleRequestAnalysis(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.RequestAnalysisParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if srv.markets.Market(p.MarketID) == nil {
		return nil, types.Errorf(types.CodeMarketNotFound, "market %q not found", p.MarketID)
	}

	request := types.AnalysisRequest{
		MarketID:  p.MarketID,
		Requester: sess.agentID,
		Bounty:    p.Bounty,
		Timestamp: time.Now(),
	}
	audience := exclude(srv.subs.Subscribers(p.MarketID), sess.agentID)
	notified := srv.notifyAgents(audience, types.NotifyAnalysisRequested, request)
	return types.RequestAnalysisResult{Notified: notified}, nil
}

func (srv *Server) handleGetAnalyses(_ *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.GetAnalysesParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout())
	defer cancel()
	analyses, err := srv.analyses.ByMarket(ctx, p.MarketID, p.Limit)
	if err != nil {
		return nil, types.Errorf(types.CodeInternalError, "query analyses: %v", err)
	}
	return types.GetAnalysesResult{Analyses: analyses}, nil
}

func (srv *Server) handlePaymentRequest(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.PaymentRequestParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	ttl := time.Duration(p.TTLSeconds) * time.Second
	req, err := srv.payments.CreateRequest(sess.agentID, p.To, p.Service, p.Amount, p.Metadata, ttl)
	if err != nil {
		return nil, types.Errorf(types.CodeInvalidParams, "%v", err)
	}

	srv.notifyAgent(p.To, types.NotifyPaymentRequested, req)
	return req, nil
}

func (srv *Server) handlePaymentReceipt(sess *Session, params json.RawMessage) (any, *types.RPCError) {
	var p types.PaymentReceiptParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.RequestTimeout())
	defer cancel()
	res, err := srv.payments.SubmitReceipt(ctx, p.RequestID, p.TxHash, sess.agentID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrBadTxHash):
			return nil, types.NewRPCError(types.CodeInvalidParams, "malformed transaction hash")
		case errors.Is(err, payment.ErrExpired):
			return nil, types.Errorf(types.CodeExpiredRequest, "payment request %q has expired", p.RequestID)
		case errors.Is(err, payment.ErrUnknownRequest):
			return nil, types.Errorf(types.CodePaymentFailed, "no payment request %q", p.RequestID)
		case errors.Is(err, payment.ErrWrongPayer):
			return nil, types.NewRPCError(types.CodePaymentFailed, "receipt rejected: request was not addressed to sender")
		}
		return nil, types.AsRPCError(err)
	}

	// Tell the original requester its service was paid for.
	srv.notifyAgent(res.Receipt.To, types.NotifyPaymentReceived, res.Receipt)
	return res, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func exclude(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
