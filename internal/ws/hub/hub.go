// Package hub maintains the set of live WebSocket connections and fans
// outbound text frames out to them. Connections are keyed by
// (user_id, connection_id); a user may hold several simultaneous
// connections (multiple tabs/devices), each with its own outbound
// channel. The channel is buffered (outboundBuffer frames) and senders
// never block on it; a frame sent to a connection whose buffer is full is
// dropped.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coreflow/backbone/internal/domain/wsmessage"
	"github.com/coreflow/backbone/internal/observability"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ApplicationHandler routes an application-specific request (the "value"
// half of a tagged-union Request frame) to domain logic and returns the
// JSON body of the matching Response.Application payload.
type ApplicationHandler func(userID string, body json.RawMessage) (json.RawMessage, error)

// outboundBuffer is generous: the channel is meant to never block the
// sender (recipient kind fan-out), so a slow/dead reader backs up here
// instead of stalling the dispatcher.
const outboundBuffer = 256

type connection struct {
	id uuid.UUID
	ch chan []byte
}

// Hub is safe for concurrent use.
type Hub struct {
	upgrader websocket.Upgrader
	handler  ApplicationHandler
	prom     *observability.Prom
	log      *slog.Logger

	mu    sync.Mutex
	users map[string][]*connection
}

func New(handler ApplicationHandler, prom *observability.Prom, log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handler: handler,
		prom:    prom,
		log:     log,
		users:   make(map[string][]*connection),
	}
}

// Upgrade promotes an HTTP request already authenticated as userID to a
// WebSocket connection and runs its pumps until the connection closes.
// It blocks for the lifetime of the connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.handleSocket(conn, userID)
	return nil
}

func (h *Hub) handleSocket(conn *websocket.Conn, userID string) {
	c := &connection{id: uuid.New(), ch: make(chan []byte, outboundBuffer)}

	h.register(userID, c)
	if h.prom != nil {
		h.prom.WsConnections.Inc()
	}
	h.log.Info("hub.connected", "user_id", userID, "connection_id", c.id)

	done := make(chan struct{})
	go h.outboundPump(conn, c, done)
	h.inboundPump(conn, userID, c)

	close(done)
	_ = conn.Close()
	h.deregister(userID, c)
	if h.prom != nil {
		h.prom.WsConnections.Dec()
	}
	h.log.Info("hub.disconnected", "user_id", userID, "connection_id", c.id)
}

func (h *Hub) outboundPump(conn *websocket.Conn, c *connection, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) inboundPump(conn *websocket.Conn, userID string, c *connection) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wsmessage.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(c, "invalid message format")
			continue
		}
		if frame.Type != wsmessage.FrameRequest {
			h.sendError(c, "only requests are supported")
			continue
		}

		resp := h.handleRequest(userID, frame)
		encoded, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		select {
		case c.ch <- encoded:
		default:
			h.log.Warn("hub.outbound_full", "user_id", userID, "connection_id", c.id)
		}
	}
}

func (h *Hub) handleRequest(userID string, frame wsmessage.Frame) wsmessage.Frame {
	switch frame.RequestKind {
	case wsmessage.RequestVersion:
		body, _ := json.Marshal(map[string]string{"version": "1"})
		return wsmessage.Frame{Type: wsmessage.FrameResponse, ID: frame.ID, RequestKind: wsmessage.RequestVersion, Body: body}
	case wsmessage.RequestApplication:
		if h.handler == nil {
			return wsmessage.Frame{Type: wsmessage.FrameError, ID: frame.ID, Message: "no application handler configured"}
		}
		body, err := h.handler(userID, frame.Body)
		if err != nil {
			return wsmessage.Frame{Type: wsmessage.FrameError, ID: frame.ID, Message: err.Error()}
		}
		return wsmessage.Frame{Type: wsmessage.FrameResponse, ID: frame.ID, RequestKind: wsmessage.RequestApplication, Body: body}
	default:
		return wsmessage.Frame{Type: wsmessage.FrameError, ID: frame.ID, Message: "unrecognized request kind"}
	}
}

func (h *Hub) sendError(c *connection, message string) {
	encoded, err := json.Marshal(wsmessage.Frame{Type: wsmessage.FrameError, Message: message})
	if err != nil {
		return
	}
	select {
	case c.ch <- encoded:
	default:
	}
}

func (h *Hub) register(userID string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[userID] = append(h.users[userID], c)
}

func (h *Hub) deregister(userID string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.users[userID]
	for i, other := range conns {
		if other == c {
			h.users[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.users[userID]) == 0 {
		delete(h.users, userID)
	}
}

// SendToUser forwards payload (already-serialized JSON text) to every
// connection registered for userID. A connection whose buffer is full is
// skipped rather than blocked on.
func (h *Hub) SendToUser(userID string, payload []byte) int {
	h.mu.Lock()
	conns := append([]*connection(nil), h.users[userID]...)
	h.mu.Unlock()

	sent := 0
	for _, c := range conns {
		select {
		case c.ch <- payload:
			sent++
		default:
			h.log.Warn("hub.send_to_user_dropped", "user_id", userID, "connection_id", c.id)
		}
	}
	return sent
}

// SendToAll forwards payload to every connection of every user.
func (h *Hub) SendToAll(payload []byte) int {
	h.mu.Lock()
	var all []*connection
	for _, conns := range h.users {
		all = append(all, conns...)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range all {
		select {
		case c.ch <- payload:
			sent++
		default:
		}
	}
	return sent
}
