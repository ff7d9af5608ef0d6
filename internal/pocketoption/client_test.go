package pocketoption

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/notify"
)

// fakeSender records every notification it receives, for tests asserting on
// which alerts the client's dial-failure hook fires.
type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toWSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// newFakeServer upgrades each incoming connection and lets the test script
// drive the conversation through the returned channel of server-side conns.
func newFakeServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	return srv, conns
}

func newTestClient(endpoint string) *Client {
	cfg := DefaultConfig()
	cfg.Endpoints = []string{endpoint}
	cfg.Backoff.Base = 10 * time.Millisecond
	cfg.Backoff.Cap = 50 * time.Millisecond
	cred := domain.NewRealCredential(777, true, domain.SessionToken{Session: "sess-test"})
	return New(cfg, cred, "raw-session-blob", testLogger())
}

func TestOnDialFailureNotifiesOnHandshakeRejection(t *testing.T) {
	sender := &fakeSender{}
	c := newTestClient("ws://unused")
	c.cfg.Notifier = notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())

	c.onDialFailure(domain.NewError("pocketoption.connector.dial", domain.KindHandshake, "invalid ssid"), 0)

	if len(sender.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sender.sent))
	}
}

func TestOnDialFailureNotifiesAfterRepeatedFailures(t *testing.T) {
	sender := &fakeSender{}
	c := newTestClient("ws://unused")
	c.cfg.Notifier = notify.NewNotifier([]notify.Sender{sender}, nil, testLogger())

	transportErr := domain.NewError("pocketoption.connector.dial", domain.KindTransport, "dial tcp: connection refused")
	for attempt := 1; attempt < reconnectExhaustionThreshold; attempt++ {
		c.onDialFailure(transportErr, attempt)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("got %d notifications before the exhaustion threshold, want 0", len(sender.sent))
	}

	c.onDialFailure(transportErr, reconnectExhaustionThreshold)
	if len(sender.sent) != 1 {
		t.Fatalf("got %d notifications at the exhaustion threshold, want 1", len(sender.sent))
	}
}

func TestClientSendsAuthFrameOnConnect(t *testing.T) {
	srv, conns := newFakeServer(t)
	defer srv.Close()

	c := newTestClient(toWSURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-conns:
	case <-time.After(time.Second):
		t.Fatal("server never saw a connection")
	}

	_, msg, err := serverConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	ev, ok := ParseEvent(string(msg))
	if !ok || ev.Name != "auth" {
		t.Fatalf("expected an auth frame first, got %q", msg)
	}
}

func TestClientUpdatesBalanceAndAssets(t *testing.T) {
	srv, conns := newFakeServer(t)
	defer srv.Close()

	c := newTestClient(toWSURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-conns:
	case <-time.After(time.Second):
		t.Fatal("server never saw a connection")
	}
	serverConn.ReadMessage() // drain the auth frame

	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`42["successupdateBalance",{"balance":500}]`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`42["updateAssets",[{"symbol":"EURUSD_otc","payout":85,"times":[5,15,60]}]]`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case <-c.AssetsReady():
	case <-time.After(time.Second):
		t.Fatal("assets never became ready")
	}

	deadline := time.After(time.Second)
	for {
		if b, ok := c.Balance(); ok && b == 500 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("balance was never observed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, ok := c.Asset("EURUSD_otc"); !ok {
		t.Fatal("expected EURUSD_otc in the asset table")
	}
}
