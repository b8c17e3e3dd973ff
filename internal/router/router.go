package router

import (
	"log"
	"time"

	"github.com/google/uuid"

	"chatline/internal/presence"
	"chatline/pkg/types"
)

// Router resolves recipients for inbound messages and forwards payloads.
// It holds no state of its own beyond reads of the registry and room table.
type Router struct {
	registry *presence.Registry
	rooms    *presence.Rooms
}

// NewRouter creates a message router over the shared presence state.
func NewRouter(registry *presence.Registry, rooms *presence.Rooms) *Router {
	return &Router{registry: registry, rooms: rooms}
}

// RouteRoomMessage stamps a server-side ID and timestamp on the message and
// forwards it to every connection currently in the room, sender included.
// Wall-clock message IDs collide under rapid sends, so IDs are UUIDs.
// Individual write failures are logged and skipped; fan-out never aborts.
func (r *Router) RouteRoomMessage(msg *types.RoomMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	msg.ID = uuid.New().String()
	msg.CreatedAt = time.Now().UTC()

	event, err := types.NewEvent(types.EventRoomMessage, msg)
	if err != nil {
		return err
	}

	for _, conn := range r.rooms.ConnectionsIn(msg.RoomID) {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("room message delivery failed: room=%s err=%v", msg.RoomID, err)
		}
	}
	return nil
}

// DeliverDirect forwards a real-time copy of a direct message to the
// receiver's live connection. An offline receiver yields ErrReceiverOffline,
// which callers treat as the ordinary persistence-only outcome, not a fault.
func (r *Router) DeliverDirect(msg *types.DirectMessage) error {
	conn, ok := r.registry.Lookup(msg.ReceiverID)
	if !ok {
		return ErrReceiverOffline
	}

	event, err := types.NewEvent(types.EventNewMessage, msg)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("direct message delivery failed: receiver=%s err=%v", msg.ReceiverID, err)
		return ErrDeliveryFailed
	}
	return nil
}

// BroadcastPresence emits the registry's current snapshot to every live
// connection, room member or not. Each registry mutation produces exactly one
// broadcast; there is no batching at this scale.
func (r *Router) BroadcastPresence() {
	event, err := types.NewEvent(types.EventGetOnlineUsers, types.PresenceSnapshot{
		OnlineUsers: r.registry.Snapshot(),
		At:          time.Now().UTC(),
	})
	if err != nil {
		log.Printf("presence snapshot encode failed: %v", err)
		return
	}

	for _, conn := range r.registry.Connections() {
		if err := conn.WriteJSON(event); err != nil {
			log.Printf("presence broadcast failed: user=%s err=%v", conn.UserID(), err)
		}
	}
}
