package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatline/internal/hub"
	"chatline/pkg/types"
)

const (
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxMessageBytes  = 128 * 1024
	handshakeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement belongs to the deployment's proxy layer.
		return true
	},
	HandshakeTimeout: handshakeTimeout,
}

// Handler upgrades HTTP requests to WebSocket connections and drives each
// connection's lifecycle: register on connect, forward events while live,
// unregister on any disconnect.
type Handler struct {
	hub *hub.Hub
}

// NewHandler creates a WebSocket handler bound to the hub.
func NewHandler(h *hub.Hub) *Handler {
	return &Handler{hub: h}
}

// HandleWebSocket accepts connections on /ws?userId=<id>. The userId query
// parameter is optional: identity was established upstream and is trusted
// as given, and a connection without one stays anonymous.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID != "" && !types.IsValidUserID(userID) {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, userID)
	if err := h.hub.Register(conn); err != nil {
		log.Printf("connection rejected: user=%q err=%v", userID, err)
		_ = conn.Close()
		return
	}

	go h.readLoop(conn)
}

// readLoop processes inbound events in arrival order until the transport
// reports a disconnect. Cleanup is keyed off the read error, never off a
// client-sent message, so abrupt network failures tear down the same way
// a polite close does.
func (h *Handler) readLoop(conn *Connection) {
	defer func() {
		if err := h.hub.Unregister(conn); err != nil {
			log.Printf("unregister failed: user=%q err=%v", conn.UserID(), err)
		}
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(maxMessageBytes)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(conn)

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: user=%q err=%v", conn.UserID(), err)
			}
			return
		}
		h.dispatch(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

// dispatch decodes one event envelope and forwards it to the hub. Malformed
// events are logged and dropped; one bad client frame must never affect
// other connections or the process.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("malformed event envelope: user=%q err=%v", conn.UserID(), err)
		return
	}

	switch event.Name {
	case types.EventJoinRoom:
		var req types.JoinRoom
		if err := json.Unmarshal(event.Data, &req); err != nil {
			log.Printf("malformed joinRoom payload: user=%q err=%v", conn.UserID(), err)
			return
		}
		if err := req.Validate(); err != nil {
			log.Printf("joinRoom rejected: user=%q err=%v", conn.UserID(), err)
			return
		}
		if err := h.hub.JoinRoom(conn, req); err != nil {
			log.Printf("joinRoom dropped: user=%q err=%v", conn.UserID(), err)
		}

	case types.EventLeaveRoom:
		var req types.LeaveRoom
		if err := json.Unmarshal(event.Data, &req); err != nil {
			log.Printf("malformed leaveRoom payload: user=%q err=%v", conn.UserID(), err)
			return
		}
		if err := req.Validate(); err != nil {
			log.Printf("leaveRoom rejected: user=%q err=%v", conn.UserID(), err)
			return
		}
		if err := h.hub.LeaveRoom(conn, req); err != nil {
			log.Printf("leaveRoom dropped: user=%q err=%v", conn.UserID(), err)
		}

	case types.EventRoomMessage:
		var msg types.RoomMessage
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			log.Printf("malformed roomMessage payload: user=%q err=%v", conn.UserID(), err)
			return
		}
		if err := h.hub.SendRoomMessage(&msg); err != nil {
			log.Printf("roomMessage dropped: user=%q err=%v", conn.UserID(), err)
		}

	default:
		log.Printf("unknown event: user=%q event=%q", conn.UserID(), event.Name)
	}
}
