// Package server hosts the A2A engine: the websocket endpoint, per-connection
// sessions with the handshake gate, and the fan-out wiring between the
// coalition coordinator, subscription registry, analysis store and payment
// exchange.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/babylon-markets/a2a/coalition"
	"github.com/babylon-markets/a2a/config"
	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/payment"
	"github.com/babylon-markets/a2a/ratelimit"
	"github.com/babylon-markets/a2a/registry"
	"github.com/babylon-markets/a2a/store"
	"github.com/babylon-markets/a2a/subscription"
	"github.com/babylon-markets/a2a/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Agents connect from anywhere; identity is proven by the handshake,
		// not the Origin header.
		return true
	},
}

// Deps are the injected collaborators of the engine. Registry, Analyses and
// Markets are required; Verifier may be nil (receipts stay unverified).
type Deps struct {
	Registry registry.Registry
	Analyses store.AnalysisStore
	Markets  MarketSource
	Verifier payment.Verifier
}

// Server is the A2A protocol engine daemon.
type Server struct {
	cfg       *config.ServerConfig
	log       *logger.Logger
	echo      *echo.Echo
	registry  registry.Registry
	markets   MarketSource
	analyses  store.AnalysisStore
	coords    *coalition.Coordinator
	subs      *subscription.Registry
	payments  *payment.Exchange
	limiter   *ratelimit.Limiter
	validator *config.CapabilitiesValidator
	methods   map[string]methodEntry

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	byAgent  map[string]*Session
}

// New assembles a server from configuration and its external collaborators.
func New(cfg *config.ServerConfig, deps Deps, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.New("a2a-server")
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	validator, err := config.NewCapabilitiesValidator()
	if err != nil {
		return nil, err
	}

	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimits))
	for class, rule := range cfg.RateLimits {
		rules[class] = ratelimit.Rule{RPS: rule.RPS, Burst: rule.Burst}
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		registry:  deps.Registry,
		markets:   deps.Markets,
		analyses:  deps.Analyses,
		coords:    coalition.NewCoordinator(),
		subs:      subscription.NewRegistry(),
		payments:  payment.NewExchange(deps.Verifier, cfg.PaymentTTL()),
		limiter:   ratelimit.New(rules),
		validator: validator,
		sessions:  make(map[*Session]struct{}),
		byAgent:   make(map[string]*Session),
	}

	s.methods = s.buildMethodTable()

	if feed, ok := deps.Markets.(*Feed); ok {
		feed.OnUpdate(s.fanOutMarketUpdate)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/ws", s.handleWS)
	e.GET("/health", s.handleHealth)
	e.GET("/stats", s.handleStats)
	s.echo = e

	return s, nil
}

// Handler exposes the HTTP handler, used by tests to mount the engine on an
// httptest server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the configured listen address and blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info("listening on %s", s.cfg.ListenAddr)
	err := s.echo.Start(s.cfg.ListenAddr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.RUnlock()

	for _, sess := range open {
		sess.Close()
	}
	return s.echo.Shutdown(ctx)
}

// Coalitions exposes the coordinator, used by operational tooling and tests.
func (s *Server) Coalitions() *coalition.Coordinator { return s.coords }

// Payments exposes the payment exchange.
func (s *Server) Payments() *payment.Exchange { return s.payments }

func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error(err, "websocket upgrade failed")
		return nil
	}

	sess := newSession(s, conn)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	go sess.writePump()
	go sess.readPump()
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	s.mu.RLock()
	connections := len(s.sessions)
	authenticated := len(s.byAgent)
	s.mu.RUnlock()

	total, active := s.coords.Count()
	return c.JSON(http.StatusOK, map[string]any{
		"connections":      connections,
		"authenticated":    authenticated,
		"coalitions":       total,
		"activeCoalitions": active,
		"subscriptions":    s.subs.Count(),
		"openPayments":     s.payments.Open(),
	})
}

// bindAgent records the authenticated session in the directory. A newer
// connection for the same agent id displaces the old one for directed
// notifications; the old transport stays open until it disconnects itself.
func (s *Server) bindAgent(sess *Session) {
	s.mu.Lock()
	s.byAgent[sess.agentID] = sess
	s.mu.Unlock()
}

// dropSession removes a session from the directory. Called once from the
// session's own teardown.
func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	if sess.agentID != "" && s.byAgent[sess.agentID] == sess {
		delete(s.byAgent, sess.agentID)
	}
	s.mu.Unlock()
}

// agentSession resolves a connected agent id to its live session.
func (s *Server) agentSession(agentID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byAgent[agentID]
}

// connectedProfiles lists the directory entries of authenticated sessions.
func (s *Server) connectedProfiles() []types.AgentProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.AgentProfile, 0, len(s.byAgent))
	for _, sess := range s.byAgent {
		out = append(out, types.AgentProfile{
			TokenID:      sess.tokenID,
			Address:      sess.address,
			Name:         sess.agentID,
			Capabilities: sess.capabilities,
			IsActive:     true,
		})
	}
	return out
}

// notifyAgent pushes a notification to one connected agent. Returns false
// when the agent is not connected or the enqueue failed.
func (s *Server) notifyAgent(agentID, method string, params any) bool {
	sess := s.agentSession(agentID)
	if sess == nil {
		return false
	}
	n, err := types.NewNotification(method, params)
	if err != nil {
		s.log.Error(err, "encode %s notification", method)
		return false
	}
	return sess.sendNotification(n)
}

// notifyAgents pushes the same notification to each listed agent, returning
// how many were actually reachable.
func (s *Server) notifyAgents(agentIDs []string, method string, params any) int {
	n, err := types.NewNotification(method, params)
	if err != nil {
		s.log.Error(err, "encode %s notification", method)
		return 0
	}
	delivered := 0
	for _, id := range agentIDs {
		if sess := s.agentSession(id); sess != nil && sess.sendNotification(n) {
			delivered++
		}
	}
	return delivered
}

// broadcastPresence announces a connect/disconnect to every authenticated
// session except the subject.
func (s *Server) broadcastPresence(method string, event types.PresenceEvent) {
	n, err := types.NewNotification(method, event)
	if err != nil {
		s.log.Error(err, "encode presence notification")
		return
	}

	s.mu.RLock()
	peers := make([]*Session, 0, len(s.byAgent))
	for id, sess := range s.byAgent {
		if id != event.AgentID {
			peers = append(peers, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range peers {
		sess.sendNotification(n)
	}
}

// fanOutMarketUpdate delivers an update to the market's subscription set as
// it stands at emission time.
func (s *Server) fanOutMarketUpdate(update types.MarketUpdate) {
	subscribers := s.subs.Subscribers(update.MarketID)
	if len(subscribers) == 0 {
		return
	}
	s.notifyAgents(subscribers, types.NotifyMarketUpdate, update)
}

// disconnectCleanup releases everything an authenticated agent held: market
// subscriptions, coalition memberships (with member-left notifications to the
// remaining members), and rate-limit buckets. Presence goes out last.
func (s *Server) disconnectCleanup(sess *Session) {
	if sess.agentID == "" {
		return
	}
	agentID := sess.agentID
	now := time.Now()

	s.subs.DropAgent(agentID)

	for _, coalitionID := range s.coords.DropAgent(agentID) {
		members, err := s.coords.Members(coalitionID)
		if err != nil {
			continue
		}
		s.notifyAgents(members, types.NotifyCoalitionMemberLeft, types.CoalitionEvent{
			CoalitionID: coalitionID,
			AgentID:     agentID,
			Members:     len(members),
			Timestamp:   now,
		})
	}

	s.limiter.Forget(agentID)
	s.limiter.Forget(strings.ToLower(sess.address))

	s.broadcastPresence(types.NotifyAgentDisconnected, types.PresenceEvent{
		AgentID:   agentID,
		Address:   sess.address,
		Timestamp: now,
	})
}
