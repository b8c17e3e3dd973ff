package router

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"chatline/internal/presence"
	"chatline/pkg/types"
)

type fakeConn struct {
	userID   string
	writeErr error

	mu     sync.Mutex
	events []*types.Event
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	ev, ok := v.(*types.Event)
	if !ok {
		return errors.New("unexpected payload type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close() error   { return nil }
func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) received() []*types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Event, len(f.events))
	copy(out, f.events)
	return out
}

func TestRouteRoomMessageFansOutToAllMembers(t *testing.T) {
	registry := presence.NewRegistry()
	rooms := presence.NewRooms()
	rt := NewRouter(registry, rooms)

	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	rooms.Join("general", "alice", alice)
	rooms.Join("general", "bob", bob)

	msg := &types.RoomMessage{RoomID: "general", SenderID: "alice", Text: "hello"}
	if err := rt.RouteRoomMessage(msg); err != nil {
		t.Fatalf("RouteRoomMessage failed: %v", err)
	}

	if msg.ID == "" {
		t.Error("expected a server-assigned message ID")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("expected a server-assigned timestamp")
	}

	// Sender receives its own message back, same as every other member.
	for _, conn := range []*fakeConn{alice, bob} {
		events := conn.received()
		if len(events) != 1 {
			t.Fatalf("%s expected 1 event, got %d", conn.userID, len(events))
		}
		if events[0].Name != types.EventRoomMessage {
			t.Errorf("%s got event %q", conn.userID, events[0].Name)
		}
		var got types.RoomMessage
		if err := json.Unmarshal(events[0].Data, &got); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if got.ID != msg.ID || got.Text != "hello" {
			t.Errorf("%s payload mismatch: %+v", conn.userID, got)
		}
	}
}

func TestRouteRoomMessageRejectsInvalid(t *testing.T) {
	rt := NewRouter(presence.NewRegistry(), presence.NewRooms())

	msg := &types.RoomMessage{RoomID: "general", SenderID: "alice"}
	if err := rt.RouteRoomMessage(msg); err != types.ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestRouteRoomMessageSurvivesWriteFailure(t *testing.T) {
	registry := presence.NewRegistry()
	rooms := presence.NewRooms()
	rt := NewRouter(registry, rooms)

	broken := newFakeConn("alice")
	broken.writeErr = errors.New("write: broken pipe")
	healthy := newFakeConn("bob")
	rooms.Join("general", "alice", broken)
	rooms.Join("general", "bob", healthy)

	msg := &types.RoomMessage{RoomID: "general", SenderID: "alice", Text: "hello"}
	if err := rt.RouteRoomMessage(msg); err != nil {
		t.Fatalf("fan-out must not abort on a single write failure: %v", err)
	}
	if len(healthy.received()) != 1 {
		t.Error("healthy member should still receive the message")
	}
}

func TestDeliverDirect(t *testing.T) {
	registry := presence.NewRegistry()
	rt := NewRouter(registry, presence.NewRooms())

	bob := newFakeConn("bob")
	registry.Add(bob)
	registry.Register("bob", bob)

	msg := &types.DirectMessage{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi"}
	if err := rt.DeliverDirect(msg); err != nil {
		t.Fatalf("DeliverDirect failed: %v", err)
	}

	events := bob.received()
	if len(events) != 1 || events[0].Name != types.EventNewMessage {
		t.Fatalf("expected one newMessage event, got %v", events)
	}
}

func TestDeliverDirectOfflineReceiver(t *testing.T) {
	rt := NewRouter(presence.NewRegistry(), presence.NewRooms())

	msg := &types.DirectMessage{SenderID: "alice", ReceiverID: "ghost", Text: "hi"}
	if err := rt.DeliverDirect(msg); err != ErrReceiverOffline {
		t.Errorf("expected ErrReceiverOffline, got %v", err)
	}
}

func TestDeliverDirectWriteFailure(t *testing.T) {
	registry := presence.NewRegistry()
	rt := NewRouter(registry, presence.NewRooms())

	bob := newFakeConn("bob")
	bob.writeErr = errors.New("write: broken pipe")
	registry.Add(bob)
	registry.Register("bob", bob)

	msg := &types.DirectMessage{SenderID: "alice", ReceiverID: "bob", Text: "hi"}
	if err := rt.DeliverDirect(msg); err != ErrDeliveryFailed {
		t.Errorf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestBroadcastPresenceReachesAnonymousConnections(t *testing.T) {
	registry := presence.NewRegistry()
	rt := NewRouter(registry, presence.NewRooms())

	alice := newFakeConn("alice")
	anon := newFakeConn("")
	registry.Add(alice)
	registry.Register("alice", alice)
	registry.Add(anon)

	rt.BroadcastPresence()

	for _, conn := range []*fakeConn{alice, anon} {
		events := conn.received()
		if len(events) != 1 || events[0].Name != types.EventGetOnlineUsers {
			t.Fatalf("expected one presence event, got %v", events)
		}
		var snap types.PresenceSnapshot
		if err := json.Unmarshal(events[0].Data, &snap); err != nil {
			t.Fatalf("snapshot decode failed: %v", err)
		}
		if len(snap.OnlineUsers) != 1 || snap.OnlineUsers[0] != "alice" {
			t.Errorf("expected [alice] online, got %v", snap.OnlineUsers)
		}
	}
}
