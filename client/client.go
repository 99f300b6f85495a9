// Package client is the agent-side half of the A2A engine: a reconnecting
// websocket client with request correlation, typed method calls and typed
// notification handlers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babylon-markets/a2a/config"
	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/protocol"
	"github.com/babylon-markets/a2a/resilience"
	"github.com/babylon-markets/a2a/types"
)

// ErrNotConnected is returned by calls made while no transport is live.
var ErrNotConnected = errors.New("client: not connected")

const (
	dialTimeout       = 10 * time.Second
	writeWait         = 10 * time.Second
	maxReconnectTries = 10
	maxReconnectDelay = 30 * time.Second
)

// Options configures a client.
type Options struct {
	URL          string
	Signer       protocol.Signer
	TokenID      uint64
	Capabilities types.AgentCapabilities
	Events       protocol.Events

	AutoReconnect  bool
	ReconnectDelay time.Duration // initial backoff, doubled per attempt
	RequestTimeout time.Duration
	Heartbeat      time.Duration

	// OnSession fires after every successful handshake, including the one
	// after a reconnect. OnDisconnect fires when a live transport dies.
	OnSession    func(types.HandshakeResult)
	OnDisconnect func(error)

	Logger *logger.Logger
}

// epoch is one transport connection's worth of state. Reconnecting replaces
// the whole epoch, so request ids restart and no state leaks across
// transports.
type epoch struct {
	sock       *websocket.Conn
	correlator *protocol.Correlator
	send       chan []byte
	done       chan struct{}
	once       sync.Once
}

func (e *epoch) close() {
	e.once.Do(func() {
		close(e.done)
		e.sock.Close()
	})
}

// enqueue hands a frame to the write pump, blocking until it is queued or
// the epoch dies.
func (e *epoch) enqueue(data []byte) bool {
	select {
	case e.send <- data:
		return true
	case <-e.done:
		return false
	}
}

// Client is a connection to the A2A server. Safe for concurrent use; many
// requests may be outstanding at once, each tracked independently.
type Client struct {
	opts       Options
	log        *logger.Logger
	dispatcher *protocol.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *epoch
	session *types.HandshakeResult
}

// New creates a client. Connect must be called before any method call.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("client: URL is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("client: a signer is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = protocol.DefaultRequestTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.New("a2a-client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:       opts,
		log:        log,
		dispatcher: protocol.NewDispatcher(opts.Events, log),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// FromConfig builds a client from file/env configuration. The signing key
// comes from A2A_PRIVATE_KEY via config.LoadClient. Event handlers and the
// session callbacks are taken from base; everything else comes from cfg.
func FromConfig(cfg *config.ClientConfig, base Options) (*Client, error) {
	signer, err := protocol.NewKeySigner(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	log := base.Logger
	if log == nil {
		log = logger.New("a2a-client")
		log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	}

	return New(Options{
		URL:     cfg.URL,
		Signer:  signer,
		TokenID: cfg.TokenID,
		Capabilities: types.AgentCapabilities{
			Strategies: cfg.CapabilityStrategy,
			Markets:    cfg.CapabilityMarkets,
			Actions:    cfg.CapabilityActions,
			Version:    cfg.CapabilityVersion,
		},
		Events:         base.Events,
		OnSession:      base.OnSession,
		OnDisconnect:   base.OnDisconnect,
		AutoReconnect:  cfg.AutoReconnect,
		ReconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		Heartbeat:      time.Duration(cfg.HeartbeatSeconds) * time.Second,
		Logger:         log,
	})
}

// Connect dials the server and runs the handshake. Reconnects always repeat
// the full handshake; sessions are never resumed across transports.
func (c *Client) Connect(ctx context.Context) error {
	return c.dialAndHandshake(ctx)
}

// Close tears down the client. Pending requests are rejected immediately.
func (c *Client) Close() {
	c.cancel()

	c.mu.Lock()
	ep := c.conn
	c.conn = nil
	c.session = nil
	c.mu.Unlock()

	if ep != nil {
		ep.close()
		ep.correlator.FailAll(protocol.ErrDisconnected)
	}
}

// Connected reports whether a live, authenticated transport exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.session != nil
}

// Session returns the current handshake result, or nil when disconnected.
func (c *Client) Session() *types.HandshakeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// AgentID returns the mesh id assigned at handshake, or "".
func (c *Client) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AgentID
}

func (c *Client) dialAndHandshake(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	sock, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	ep := &epoch{
		sock:       sock,
		correlator: protocol.NewCorrelator(c.opts.RequestTimeout),
		send:       make(chan []byte, 256),
		done:       make(chan struct{}),
	}

	go c.readPump(ep)
	go c.writePump(ep)

	session, err := c.handshake(ctx, ep)
	if err != nil {
		ep.close()
		ep.correlator.FailAll(protocol.ErrDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = ep
	c.session = session
	c.mu.Unlock()

	c.log.Info("authenticated as %s", session.AgentID)
	if c.opts.OnSession != nil {
		c.opts.OnSession(*session)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context, ep *epoch) (*types.HandshakeResult, error) {
	ts := time.Now().UnixMilli()
	challenge := protocol.BuildChallenge(c.opts.Signer.Address(), c.opts.TokenID, ts)
	signature, err := c.opts.Signer.Sign(challenge)
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	params := types.HandshakeParams{
		Credentials: types.AgentCredentials{
			Address:   c.opts.Signer.Address(),
			TokenID:   c.opts.TokenID,
			Signature: signature,
			Timestamp: ts,
		},
		Capabilities: c.opts.Capabilities,
	}

	var result types.HandshakeResult
	if err := c.callOn(ctx, ep, types.MethodHandshake, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call issues a request and decodes the result into out (which may be nil).
// Exactly one of three things happens to every call: a matched response, a
// timeout, or a disconnect rejection.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	ep := c.conn
	c.mu.Unlock()
	if ep == nil {
		return ErrNotConnected
	}
	return c.callOn(ctx, ep, method, params, out)
}

func (c *Client) callOn(ctx context.Context, ep *epoch, method string, params, out any) error {
	id, ch := ep.correlator.Track()
	req, err := types.NewRequest(id, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if !ep.enqueue(data) {
		// The epoch died; its FailAll settles the pending entry.
		return ErrNotConnected
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Response.Error != nil {
			return res.Response.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.Response.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readPump(ep *epoch) {
	pongWait := 2 * c.opts.Heartbeat
	ep.sock.SetReadDeadline(time.Now().Add(pongWait))
	ep.sock.SetPongHandler(func(string) error {
		return ep.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	var readErr error
	for {
		_, data, err := ep.sock.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.handleFrame(ep, data)
	}
	c.handleDisconnect(ep, readErr)
}

func (c *Client) writePump(ep *epoch) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case data := <-ep.send:
			ep.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ep.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				ep.close()
				return
			}
		case <-ticker.C:
			ep.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ep.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				ep.close()
				return
			}
		case <-ep.done:
			return
		}
	}
}

func (c *Client) handleFrame(ep *epoch, data []byte) {
	frame, err := types.DecodeFrame(data)
	if err != nil {
		c.log.Warn("dropping malformed frame: %v", err)
		return
	}

	switch frame.Kind {
	case types.FrameResponse:
		if !ep.correlator.Resolve(frame.Response) {
			c.log.Debug("discarding late response id=%d", frame.Response.ID)
		}
	case types.FrameNotification:
		c.dispatcher.Dispatch(frame.Notification)
	case types.FrameRequest:
		// The server never calls the agent; tolerate and ignore.
		c.log.Debug("ignoring server request %s", frame.Request.Method)
	}
}

// handleDisconnect runs once per dead epoch: pending requests are rejected
// synchronously, then reconnection is scheduled if configured.
func (c *Client) handleDisconnect(ep *epoch, cause error) {
	ep.close()
	ep.correlator.FailAll(protocol.ErrDisconnected)

	c.mu.Lock()
	wasCurrent := c.conn == ep
	if wasCurrent {
		c.conn = nil
		c.session = nil
	}
	c.mu.Unlock()

	if !wasCurrent {
		return
	}

	c.log.Warn("connection lost: %v", cause)
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(cause)
	}

	if c.opts.AutoReconnect && c.ctx.Err() == nil {
		go c.reconnect()
	}
}

// reconnect re-dials with exponential backoff and repeats the handshake.
func (c *Client) reconnect() {
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:     maxReconnectTries,
		InitialDelay:    c.opts.ReconnectDelay,
		MaxDelay:        maxReconnectDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         resilience.IsRetryable,
	}
	err := resilience.RetryWithConfig(c.ctx, retryCfg, func() error {
		return c.dialAndHandshake(c.ctx)
	})
	if err != nil && c.ctx.Err() == nil {
		c.log.Error(err, "reconnect abandoned")
	}
}
