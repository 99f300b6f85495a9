package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babylon-markets/a2a/client"
	"github.com/babylon-markets/a2a/config"
	"github.com/babylon-markets/a2a/protocol"
	"github.com/babylon-markets/a2a/registry"
	"github.com/babylon-markets/a2a/store"
	"github.com/babylon-markets/a2a/types"
)

type testEnv struct {
	srv  *Server
	reg  *registry.StaticRegistry
	feed *Feed
	url  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.DefaultServerConfig()
	reg := registry.NewStaticRegistry()
	feed := NewFeed()
	feed.Seed(types.Market{ID: "MKT-1", Question: "Will it rain?", Kind: "prediction", YesPrice: 0.4, NoPrice: 0.6, Status: "open"})
	feed.Seed(types.Market{ID: "MKT-2", Ticker: "ETH-PERP", Kind: "perp", Price: 2100, Status: "open"})

	srv, err := New(cfg, Deps{
		Registry: reg,
		Analyses: store.NewMemoryStore(100, 0),
		Markets:  feed,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		srv:  srv,
		reg:  reg,
		feed: feed,
		url:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func testCapabilities() types.AgentCapabilities {
	return types.AgentCapabilities{
		Strategies: []string{"momentum"},
		Markets:    []string{"MKT-1"},
		Actions:    []string{"trade"},
		Version:    "1.0.0",
	}
}

// newAgent registers a fresh key in the static registry and connects an
// authenticated client for it.
func newAgent(t *testing.T, env *testEnv, tokenID uint64, events protocol.Events) *client.Client {
	t.Helper()

	signer, err := protocol.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner: %v", err)
	}
	env.reg.Register(&types.AgentProfile{
		TokenID:  tokenID,
		Address:  signer.Address(),
		Name:     "test-agent",
		IsActive: true,
	})

	c, err := client.New(client.Options{
		URL:            env.url,
		Signer:         signer,
		TokenID:        tokenID,
		Capabilities:   testCapabilities(),
		Events:         events,
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func rawDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// rawCall sends one request frame and reads until the matching response,
// skipping any notifications the server interleaves.
func rawCall(t *testing.T, conn *websocket.Conn, id uint64, method string, params any) *types.Response {
	t.Helper()

	req, err := types.NewRequest(id, method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frame, err := types.DecodeFrame(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame.Kind == types.FrameResponse && frame.Response.ID == id {
			return frame.Response
		}
	}
}

func TestCoalitionScenarioEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agentA := newAgent(t, env, 1, protocol.Events{})
	agentB := newAgent(t, env, 2, protocol.Events{})

	coal, err := agentA.ProposeCoalition(ctx, types.ProposeCoalitionParams{
		Name:         "whales",
		TargetMarket: "MKT-1",
		Strategy:     "momentum",
		MinMembers:   2,
		MaxMembers:   5,
	})
	if err != nil {
		t.Fatalf("ProposeCoalition: %v", err)
	}
	if coal.ID == "" || !coal.Active {
		t.Fatalf("coalition = %+v", coal)
	}

	res, err := agentB.JoinCoalition(ctx, coal.ID)
	if err != nil {
		t.Fatalf("JoinCoalition: %v", err)
	}
	if res.AlreadyMember || len(res.Coalition.Members) != 2 {
		t.Errorf("join result = %+v", res)
	}

	// Both sides read each other's directory entry.
	infoB, err := agentA.GetInfo(ctx, agentB.AgentID())
	if err != nil {
		t.Fatalf("GetInfo(B): %v", err)
	}
	if infoB.TokenID != 2 {
		t.Errorf("B tokenId = %d", infoB.TokenID)
	}
	infoA, err := agentB.GetInfo(ctx, agentA.AgentID())
	if err != nil {
		t.Fatalf("GetInfo(A): %v", err)
	}
	if infoA.TokenID != 1 {
		t.Errorf("A tokenId = %d", infoA.TokenID)
	}
}

func TestMethodsGatedBeforeHandshake(t *testing.T) {
	env := newTestEnv(t)
	conn := rawDial(t, env.url)

	resp := rawCall(t, conn, 1, types.MethodGetMarketData, types.MarketRef{MarketID: "MKT-1"})
	if resp.Error == nil || resp.Error.Code != types.CodeNotAuthenticated {
		t.Fatalf("error = %+v, want NOT_AUTHENTICATED", resp.Error)
	}

	// The connection stays open: a second call still gets an answer.
	resp = rawCall(t, conn, 2, types.MethodDiscover, nil)
	if resp.Error == nil || resp.Error.Code != types.CodeNotAuthenticated {
		t.Fatalf("second call error = %+v, want NOT_AUTHENTICATED", resp.Error)
	}
}

func TestHandshakeWrongSignerRejectedAndClosed(t *testing.T) {
	env := newTestEnv(t)

	owner, _ := protocol.GenerateKeySigner()
	impostor, _ := protocol.GenerateKeySigner()
	env.reg.Register(&types.AgentProfile{TokenID: 7, Address: owner.Address()})

	ts := time.Now().UnixMilli()
	challenge := protocol.BuildChallenge(owner.Address(), 7, ts)
	sig, _ := impostor.Sign(challenge)

	conn := rawDial(t, env.url)
	resp := rawCall(t, conn, 1, types.MethodHandshake, types.HandshakeParams{
		Credentials: types.AgentCredentials{
			Address:   owner.Address(),
			TokenID:   7,
			Signature: sig,
			Timestamp: ts,
		},
		Capabilities: testCapabilities(),
	})
	if resp.Error == nil || resp.Error.Code != types.CodeAuthenticationFailed {
		t.Fatalf("error = %+v, want AUTHENTICATION_FAILED", resp.Error)
	}

	// The server closes the connection after an authentication fault.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestHandshakeStaleTimestampRejected(t *testing.T) {
	env := newTestEnv(t)

	signer, _ := protocol.GenerateKeySigner()
	env.reg.Register(&types.AgentProfile{TokenID: 8, Address: signer.Address()})

	ts := time.Now().Add(-10 * time.Minute).UnixMilli()
	challenge := protocol.BuildChallenge(signer.Address(), 8, ts)
	sig, _ := signer.Sign(challenge)

	conn := rawDial(t, env.url)
	resp := rawCall(t, conn, 1, types.MethodHandshake, types.HandshakeParams{
		Credentials: types.AgentCredentials{
			Address:   signer.Address(),
			TokenID:   8,
			Signature: sig,
			Timestamp: ts,
		},
		Capabilities: testCapabilities(),
	})
	if resp.Error == nil || resp.Error.Code != types.CodeAuthenticationFailed {
		t.Fatalf("error = %+v, want AUTHENTICATION_FAILED for stale timestamp", resp.Error)
	}
}

func TestJoinFullCoalitionOverTheWire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agentA := newAgent(t, env, 1, protocol.Events{})
	agentB := newAgent(t, env, 2, protocol.Events{})
	agentC := newAgent(t, env, 3, protocol.Events{})

	coal, err := agentA.ProposeCoalition(ctx, types.ProposeCoalitionParams{
		Name:         "duo",
		TargetMarket: "MKT-1",
		Strategy:     "value",
		MinMembers:   1,
		MaxMembers:   2,
	})
	if err != nil {
		t.Fatalf("ProposeCoalition: %v", err)
	}
	if _, err := agentB.JoinCoalition(ctx, coal.ID); err != nil {
		t.Fatalf("B join: %v", err)
	}

	_, err = agentC.JoinCoalition(ctx, coal.ID)
	var rpcErr *types.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != types.CodeInvalidRequest {
		t.Fatalf("C join err = %v, want INVALID_REQUEST", err)
	}

	// Joining again is idempotent for an existing member.
	res, err := agentB.JoinCoalition(ctx, coal.ID)
	if err != nil {
		t.Fatalf("B rejoin: %v", err)
	}
	if !res.AlreadyMember || len(res.Coalition.Members) != 2 {
		t.Errorf("rejoin = %+v", res)
	}
}

func TestMarketUpdateFanOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	updatesA := make(chan types.MarketUpdate, 8)
	agentA := newAgent(t, env, 1, protocol.Events{
		OnMarketUpdate: func(u types.MarketUpdate) { updatesA <- u },
	})
	updatesB := make(chan types.MarketUpdate, 8)
	_ = newAgent(t, env, 2, protocol.Events{
		OnMarketUpdate: func(u types.MarketUpdate) { updatesB <- u },
	})

	if _, err := agentA.SubscribeMarket(ctx, "MKT-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env.feed.Publish(types.MarketUpdate{MarketID: "MKT-1", YesPrice: 0.55})

	select {
	case u := <-updatesA:
		if u.MarketID != "MKT-1" || u.YesPrice != 0.55 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not receive the update")
	}

	select {
	case u := <-updatesB:
		t.Fatalf("unsubscribed agent received %+v", u)
	case <-time.After(200 * time.Millisecond):
	}

	// Unsubscribing stops delivery immediately.
	if err := agentA.UnsubscribeMarket(ctx, "MKT-1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	env.feed.Publish(types.MarketUpdate{MarketID: "MKT-1", YesPrice: 0.6})
	select {
	case u := <-updatesA:
		t.Fatalf("received after unsubscribe: %+v", u)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestAnalysisShareAndQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	shared := make(chan types.MarketAnalysis, 1)
	agentA := newAgent(t, env, 1, protocol.Events{
		OnAnalysisShared: func(a types.MarketAnalysis) { shared <- a },
	})
	agentB := newAgent(t, env, 2, protocol.Events{})

	if _, err := agentA.SubscribeMarket(ctx, "MKT-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	analysis, err := agentB.ShareAnalysis(ctx, types.ShareAnalysisParams{
		MarketID:   "MKT-1",
		Prediction: 1.7, // clamped
		Confidence: 0.8,
		Reasoning:  "volume spike",
	})
	if err != nil {
		t.Fatalf("ShareAnalysis: %v", err)
	}
	if analysis.Prediction != 1 {
		t.Errorf("prediction = %v, want clamped to 1", analysis.Prediction)
	}
	if analysis.Analyst != agentB.AgentID() {
		t.Errorf("analyst = %q", analysis.Analyst)
	}

	select {
	case got := <-shared:
		if got.Reasoning != "volume spike" {
			t.Errorf("shared = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not receive analysisShared")
	}

	stored, err := agentA.GetAnalyses(ctx, "MKT-1", 10)
	if err != nil {
		t.Fatalf("GetAnalyses: %v", err)
	}
	if len(stored) != 1 || stored[0].Analyst != agentB.AgentID() {
		t.Errorf("stored = %+v", stored)
	}
}

func TestPaymentRequestAndReceiptFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	received := make(chan *types.PaymentReceipt, 1)
	agentA := newAgent(t, env, 1, protocol.Events{
		OnPaymentReceived: func(r types.PaymentReceipt) { received <- &r },
	})

	requested := make(chan *types.PaymentRequest, 1)
	agentB := newAgent(t, env, 2, protocol.Events{
		OnPaymentRequested: func(r types.PaymentRequest) { requested <- &r },
	})

	req, err := agentA.RequestPayment(ctx, types.PaymentRequestParams{
		To:      agentB.AgentID(),
		Amount:  1.5,
		Service: "analysis",
	})
	if err != nil {
		t.Fatalf("RequestPayment: %v", err)
	}

	select {
	case got := <-requested:
		if got.RequestID != req.RequestID || got.Amount != 1.5 {
			t.Errorf("forwarded request = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("target agent was not notified of the payment request")
	}

	txHash := "0x" + strings.Repeat("ab", 32)
	res, err := agentB.SubmitPaymentReceipt(ctx, req.RequestID, txHash)
	if err != nil {
		t.Fatalf("SubmitPaymentReceipt: %v", err)
	}
	if res.Verified {
		t.Error("receipt verified without a verifier wired")
	}

	select {
	case got := <-received:
		if got.TxHash != txHash || got.From != agentB.AgentID() {
			t.Errorf("receipt = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("requester was not notified of the receipt")
	}

	// A second receipt for the settled request fails.
	_, err = agentB.SubmitPaymentReceipt(ctx, req.RequestID, txHash)
	var rpcErr *types.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != types.CodePaymentFailed {
		t.Fatalf("resubmit err = %v, want PAYMENT_FAILED", err)
	}
}

func TestPresenceBroadcast(t *testing.T) {
	env := newTestEnv(t)

	connected := make(chan types.PresenceEvent, 4)
	disconnected := make(chan types.PresenceEvent, 4)
	_ = newAgent(t, env, 1, protocol.Events{
		OnAgentConnected:    func(e types.PresenceEvent) { connected <- e },
		OnAgentDisconnected: func(e types.PresenceEvent) { disconnected <- e },
	})

	agentB := newAgent(t, env, 2, protocol.Events{})
	bID := agentB.AgentID()

	select {
	case e := <-connected:
		if e.AgentID != bID {
			t.Errorf("connected event for %q, want %q", e.AgentID, bID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no agentConnected broadcast")
	}

	agentB.Close()
	select {
	case e := <-disconnected:
		if e.AgentID != bID {
			t.Errorf("disconnected event for %q, want %q", e.AgentID, bID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no agentDisconnected broadcast")
	}
}

func TestUnknownMethodAndMalformedFrame(t *testing.T) {
	env := newTestEnv(t)
	agent := newAgent(t, env, 1, protocol.Events{})

	err := agent.Call(context.Background(), "a2a.noSuchMethod", nil, nil)
	var rpcErr *types.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != types.CodeMethodNotFound {
		t.Fatalf("err = %v, want METHOD_NOT_FOUND", err)
	}

	// Malformed JSON gets a parse error and the connection stays open.
	conn := rawDial(t, env.url)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp types.Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != types.CodeParseError {
		t.Fatalf("error = %+v, want PARSE_ERROR", resp.Error)
	}

	resp2 := rawCall(t, conn, 1, types.MethodDiscover, nil)
	if resp2.Error == nil || resp2.Error.Code != types.CodeNotAuthenticated {
		t.Fatalf("connection did not survive the malformed frame: %+v", resp2)
	}
}

func TestDisconnectReleasesCoalitionAndSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	memberLeft := make(chan types.CoalitionEvent, 1)
	agentA := newAgent(t, env, 1, protocol.Events{
		OnCoalitionMemberLeft: func(e types.CoalitionEvent) { memberLeft <- e },
	})
	agentB := newAgent(t, env, 2, protocol.Events{})
	bID := agentB.AgentID()

	coal, err := agentA.ProposeCoalition(ctx, types.ProposeCoalitionParams{
		Name:         "pair",
		TargetMarket: "MKT-1",
		Strategy:     "momentum",
		MinMembers:   1,
		MaxMembers:   5,
	})
	if err != nil {
		t.Fatalf("ProposeCoalition: %v", err)
	}
	if _, err := agentB.JoinCoalition(ctx, coal.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := agentB.SubscribeMarket(ctx, "MKT-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	agentB.Close()

	select {
	case e := <-memberLeft:
		if e.AgentID != bID || e.CoalitionID != coal.ID {
			t.Errorf("memberLeft = %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("remaining member not told about the departure")
	}

	got, err := env.srv.Coalitions().Members(coal.ID)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("members after disconnect = %v", got)
	}
}
