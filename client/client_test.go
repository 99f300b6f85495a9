package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babylon-markets/a2a/protocol"
	"github.com/babylon-markets/a2a/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeServer runs a scripted peer: it always answers the handshake, then
// hands control of the connection to script.
func fakeServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		req, params := readRequest(t, conn)
		if req.Method != types.MethodHandshake {
			t.Errorf("first request = %s, want handshake", req.Method)
			return
		}

		var hs types.HandshakeParams
		if err := json.Unmarshal(params, &hs); err != nil {
			t.Errorf("decode handshake params: %v", err)
			return
		}
		if err := protocol.VerifyCredentials(hs.Credentials, time.Now(), protocol.DefaultFreshnessWindow()); err != nil {
			t.Errorf("handshake credentials rejected: %v", err)
			return
		}

		writeResult(t, conn, req.ID, types.HandshakeResult{
			AgentID:      "1:42",
			SessionToken: "tok",
			ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
			HeartbeatMs:  30_000,
		})

		if script != nil {
			script(conn)
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func readRequest(t *testing.T, conn *websocket.Conn) (*types.Request, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		frame, err := types.DecodeFrame(data)
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		if frame.Kind == types.FrameRequest {
			return frame.Request, frame.Request.Params
		}
	}
}

func writeResult(t *testing.T, conn *websocket.Conn, id uint64, result any) {
	t.Helper()
	resp, err := types.NewResult(id, result)
	if err != nil {
		t.Fatalf("encode result: %v", err)
	}
	data, _ := json.Marshal(resp)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func newTestClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()

	signer, err := protocol.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner: %v", err)
	}
	opts.URL = url
	opts.Signer = signer
	opts.TokenID = 42
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	opts.Capabilities = types.AgentCapabilities{
		Strategies: []string{"momentum"},
		Markets:    []string{"MKT-1"},
		Actions:    []string{"trade"},
		Version:    "1.0.0",
	}

	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConnectRunsSignedHandshake(t *testing.T) {
	url := fakeServer(t, nil)
	c := newTestClient(t, url, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if c.AgentID() != "1:42" {
		t.Errorf("agent id = %q", c.AgentID())
	}
	s := c.Session()
	if s == nil || s.SessionToken != "tok" {
		t.Errorf("session = %+v", s)
	}
	if !c.Connected() {
		t.Error("client not connected after handshake")
	}
}

func TestCallTimesOutAndLateResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	url := fakeServer(t, func(conn *websocket.Conn) {
		// Swallow the request, answer only after the caller timed out.
		req, _ := readRequest(t, conn)
		<-release
		writeResult(t, conn, req.ID, types.DiscoverResult{})

		// A later request still gets served, proving the connection and
		// correlator survived the late frame.
		req2, _ := readRequest(t, conn)
		writeResult(t, conn, req2.ID, types.DiscoverResult{})
	})

	c := newTestClient(t, url, Options{RequestTimeout: 200 * time.Millisecond})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.Discover(ctx)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	close(release)
	time.Sleep(100 * time.Millisecond) // let the late response arrive

	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("call after late response: %v", err)
	}
}

func TestDisconnectRejectsPendingSynchronously(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn) {
		readRequest(t, conn)
		conn.Close()
	})

	c := newTestClient(t, url, Options{RequestTimeout: 10 * time.Second})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := time.Now()
	_, err := c.Discover(ctx)
	if !errors.Is(err, protocol.ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("pending request waited %v for a disconnect rejection", elapsed)
	}
}

func TestNotificationsReachTypedHandlers(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn) {
		n, _ := types.NewNotification(types.NotifyMarketUpdate, types.MarketUpdate{
			MarketID: "MKT-1",
			YesPrice: 0.7,
		})
		data, _ := json.Marshal(n)
		conn.WriteMessage(websocket.TextMessage, data)

		// Unknown methods go to the default handler, not the floor.
		unknown, _ := types.NewNotification("a2a.somethingNew", map[string]string{"k": "v"})
		data, _ = json.Marshal(unknown)
		conn.WriteMessage(websocket.TextMessage, data)

		// Keep the connection open until the test is done reading.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		conn.ReadMessage()
	})

	updates := make(chan types.MarketUpdate, 1)
	unknowns := make(chan string, 1)
	c := newTestClient(t, url, Options{
		Events: protocol.Events{
			OnMarketUpdate: func(u types.MarketUpdate) { updates <- u },
			OnUnknown:      func(method string, _ json.RawMessage) { unknowns <- method },
		},
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case u := <-updates:
		if u.MarketID != "MKT-1" || u.YesPrice != 0.7 {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("marketUpdate never dispatched")
	}

	select {
	case method := <-unknowns:
		if method != "a2a.somethingNew" {
			t.Errorf("unknown method = %q", method)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("unknown notification never dispatched")
	}
}

func TestCallWithoutConnection(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/ws", Options{})
	if _, err := c.Discover(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestReconnectRepeatsHandshake(t *testing.T) {
	handshakes := make(chan struct{}, 16)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		req, _ := readRequest(t, conn)
		if req.Method != types.MethodHandshake {
			return
		}
		handshakes <- struct{}{}
		writeResult(t, conn, req.ID, types.HandshakeResult{
			AgentID:      "1:42",
			SessionToken: "tok",
			ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
			HeartbeatMs:  30_000,
		})

		// Drop the connection shortly after authenticating; the client
		// must come back with a fresh handshake.
		time.Sleep(50 * time.Millisecond)
	}))
	t.Cleanup(ts.Close)

	c := newTestClient(t, "ws"+strings.TrimPrefix(ts.URL, "http"), Options{
		AutoReconnect:  true,
		ReconnectDelay: 50 * time.Millisecond,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-handshakes:
		case <-time.After(5 * time.Second):
			t.Fatalf("saw %d handshakes, want at least 2", i)
		}
	}
}
