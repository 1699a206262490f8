package hub_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/domain/wsmessage"
	"github.com/coreflow/backbone/internal/ws/hub"
	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHub_VersionRequestGetsAResponse(t *testing.T) {
	h := hub.New(nil, nil, discardLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Upgrade(w, r, "user-1")
	}))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	req := wsmessage.Frame{Type: wsmessage.FrameRequest, ID: "1", RequestKind: wsmessage.RequestVersion}
	body, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp wsmessage.Frame
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Type != wsmessage.FrameResponse || resp.ID != "1" {
		t.Fatalf("unexpected response frame: %+v", resp)
	}
}

func TestHub_SendToUserDeliversToConnectedClient(t *testing.T) {
	h := hub.New(nil, nil, discardLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Upgrade(w, r, "user-2")
	}))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	// Give the server goroutine time to register the connection before
	// the hub tries to fan out to it.
	var sent int
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sent = h.SendToUser("user-2", []byte(`{"hello":"world"}`))
		if sent > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sent != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sent)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != `{"hello":"world"}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
}

func TestHub_SendToUserWithNoConnectionsReturnsZero(t *testing.T) {
	h := hub.New(nil, nil, discardLogger())
	if sent := h.SendToUser("nobody-here", []byte(`{}`)); sent != 0 {
		t.Fatalf("expected zero deliveries for an unknown user, got %d", sent)
	}
}
