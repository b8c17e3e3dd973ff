package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatline/internal/hub"
	"chatline/internal/presence"
	"chatline/internal/router"
	"chatline/pkg/types"
)

type handlerFixture struct {
	srv      *httptest.Server
	hub      *hub.Hub
	registry *presence.Registry
	rooms    *presence.Rooms
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	registry := presence.NewRegistry()
	rooms := presence.NewRooms()
	rt := router.NewRouter(registry, rooms)
	h := hub.NewHub(registry, rooms, rt, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })

	handler := NewHandler(h)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &handlerFixture{srv: srv, hub: h, registry: registry, rooms: rooms}
}

func (f *handlerFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if userID != "" {
		url += "?userId=" + userID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed for %q: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, name string, payload interface{}) {
	t.Helper()
	ev, err := types.NewEvent(name, payload)
	if err != nil {
		t.Fatalf("event build failed: %v", err)
	}
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("event send failed: %v", err)
	}
}

// readEvent reads frames until one with the given name arrives, discarding
// interleaved presence broadcasts and the like.
func readEvent(t *testing.T, conn *websocket.Conn, name string) *types.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed waiting for %q: %v", name, err)
		}
		if ev.Name == name {
			return &ev
		}
	}
	t.Fatalf("timed out waiting for %q", name)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandlerRejectsInvalidUserID(t *testing.T) {
	f := newHandlerFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?userId=bad%20id"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 response, got %v", resp)
	}
}

func TestHandlerConnectReceivesPresence(t *testing.T) {
	f := newHandlerFixture(t)

	alice := f.dial(t, "alice")

	ev := readEvent(t, alice, types.EventGetOnlineUsers)
	var snap types.PresenceSnapshot
	if err := json.Unmarshal(ev.Data, &snap); err != nil {
		t.Fatalf("snapshot decode failed: %v", err)
	}
	if len(snap.OnlineUsers) != 1 || snap.OnlineUsers[0] != "alice" {
		t.Errorf("expected [alice], got %v", snap.OnlineUsers)
	}
}

func TestHandlerAnonymousConnect(t *testing.T) {
	f := newHandlerFixture(t)

	anon := f.dial(t, "")

	waitFor(t, "connection tracked", func() bool {
		return f.registry.Stats()["connections"] == 1
	})
	if users := f.registry.Snapshot(); len(users) != 0 {
		t.Errorf("anonymous connection entered presence: %v", users)
	}

	// Anonymous connections still see roster changes.
	f.dial(t, "alice")
	ev := readEvent(t, anon, types.EventGetOnlineUsers)
	var snap types.PresenceSnapshot
	if err := json.Unmarshal(ev.Data, &snap); err != nil {
		t.Fatalf("snapshot decode failed: %v", err)
	}
	if len(snap.OnlineUsers) != 1 || snap.OnlineUsers[0] != "alice" {
		t.Errorf("expected [alice], got %v", snap.OnlineUsers)
	}
}

func TestHandlerRoomFlow(t *testing.T) {
	f := newHandlerFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	sendEvent(t, alice, types.EventJoinRoom, types.JoinRoom{RoomID: "general", UserID: "alice"})
	sendEvent(t, bob, types.EventJoinRoom, types.JoinRoom{RoomID: "general", UserID: "bob"})
	waitFor(t, "both members joined", func() bool {
		return len(f.rooms.MembersOf("general")) == 2
	})

	sendEvent(t, alice, types.EventRoomMessage, types.RoomMessage{
		RoomID:   "general",
		SenderID: "alice",
		Text:     "hello room",
	})

	// Everyone in the room receives the message, sender included.
	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn, types.EventRoomMessage)
		var msg types.RoomMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if msg.Text != "hello room" || msg.SenderID != "alice" {
			t.Errorf("payload mismatch: %+v", msg)
		}
		if msg.ID == "" || msg.CreatedAt.IsZero() {
			t.Error("expected server-assigned ID and timestamp")
		}
	}

	sendEvent(t, bob, types.EventLeaveRoom, types.LeaveRoom{RoomID: "general", UserID: "bob"})
	waitFor(t, "bob left", func() bool {
		members := f.rooms.MembersOf("general")
		return len(members) == 1 && members[0] == "alice"
	})
}

func TestHandlerDisconnectCleansUp(t *testing.T) {
	f := newHandlerFixture(t)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	sendEvent(t, alice, types.EventJoinRoom, types.JoinRoom{RoomID: "general", UserID: "alice"})
	waitFor(t, "alice joined", func() bool {
		return len(f.rooms.MembersOf("general")) == 1
	})

	// Abrupt close, no leave events sent.
	_ = alice.Close()

	waitFor(t, "alice removed from presence", func() bool {
		_, ok := f.registry.Lookup("alice")
		return !ok
	})
	waitFor(t, "empty room deleted", func() bool {
		return len(f.rooms.RoomIDs()) == 0
	})

	// Survivors learn the new roster.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("bob never saw the post-disconnect roster")
		}
		ev := readEvent(t, bob, types.EventGetOnlineUsers)
		var snap types.PresenceSnapshot
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			t.Fatalf("snapshot decode failed: %v", err)
		}
		if len(snap.OnlineUsers) == 1 && snap.OnlineUsers[0] == "bob" {
			return
		}
	}
}

func TestHandlerMalformedFramesAreDropped(t *testing.T) {
	f := newHandlerFixture(t)

	alice := f.dial(t, "alice")

	// Broken envelope, unknown event, and an invalid payload; none of them
	// may kill the connection.
	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	sendEvent(t, alice, "bogusEvent", map[string]string{"x": "y"})
	sendEvent(t, alice, types.EventJoinRoom, types.JoinRoom{RoomID: "bad id!", UserID: "alice"})

	// The connection still works: a valid join lands.
	sendEvent(t, alice, types.EventJoinRoom, types.JoinRoom{RoomID: "general", UserID: "alice"})
	waitFor(t, "join after malformed frames", func() bool {
		return len(f.rooms.MembersOf("general")) == 1
	})
}

func TestHandlerReconnectReplacesConnection(t *testing.T) {
	f := newHandlerFixture(t)

	first := f.dial(t, "alice")
	readEvent(t, first, types.EventGetOnlineUsers)

	second := f.dial(t, "alice")
	readEvent(t, second, types.EventGetOnlineUsers)

	waitFor(t, "both sockets tracked or first reaped", func() bool {
		_, ok := f.registry.Lookup("alice")
		return ok
	})

	// The replacement carries the identity; room joins on it work.
	sendEvent(t, second, types.EventJoinRoom, types.JoinRoom{RoomID: "general", UserID: "alice"})
	waitFor(t, "join on replacement connection", func() bool {
		return len(f.rooms.MembersOf("general")) == 1
	})

	// alice stays online throughout the replacement.
	if users := f.registry.Snapshot(); len(users) != 1 || users[0] != "alice" {
		t.Errorf("expected alice online, got %v", users)
	}
}
