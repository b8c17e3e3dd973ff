package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"chatline/internal/presence"
	"chatline/internal/router"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Hub owns every mutation of the registry and room table. Events funnel
// through one FIFO queue drained by a single goroutine, so events from one
// connection are processed in the order received and the in-memory maps
// need no coordination beyond the read locks used by HTTP handlers.
// Handlers running on the loop must not block; persistence is dispatched
// asynchronously.
type Hub struct {
	eventCh    chan event
	shutdownCh chan struct{}

	registry *presence.Registry
	rooms    *presence.Rooms
	router   *router.Router
	store    interfaces.MessageStore

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// event is one unit of work for the loop. A single queue, rather than a
// channel per kind, keeps per-connection ordering intact.
type event interface{}

type registerEvent struct{ conn interfaces.Connection }
type unregisterEvent struct{ conn interfaces.Connection }

type joinEvent struct {
	conn interfaces.Connection
	req  types.JoinRoom
}

type leaveEvent struct {
	conn interfaces.Connection
	req  types.LeaveRoom
}

type roomMessageEvent struct{ msg *types.RoomMessage }
type directMessageEvent struct{ msg *types.DirectMessage }

const eventQueueSize = 1024

// NewHub creates a hub over the shared presence state. store may be nil in
// tests; persistence side effects are skipped when it is.
func NewHub(registry *presence.Registry, rooms *presence.Rooms, rt *router.Router, store interfaces.MessageStore) *Hub {
	return &Hub{
		eventCh:    make(chan event, eventQueueSize),
		shutdownCh: make(chan struct{}),
		registry:   registry,
		rooms:      rooms,
		router:     rt,
		store:      store,
	}
}

// Start launches the event loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("starting chat hub")
	h.wg.Add(1)
	go h.run(ctx)
	return nil
}

// Stop shuts the loop down and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	select {
	case <-h.shutdownCh:
	default:
		close(h.shutdownCh)
	}
	h.wg.Wait()
	return nil
}

// Register queues a new connection. Identified connections enter presence;
// anonymous ones are only tracked for broadcasts.
func (h *Hub) Register(conn interfaces.Connection) error {
	return h.enqueue(registerEvent{conn: conn})
}

// Unregister queues connection teardown. Driven by the transport's own
// disconnect notification, so cleanup runs even after abrupt network failure.
func (h *Hub) Unregister(conn interfaces.Connection) error {
	return h.enqueue(unregisterEvent{conn: conn})
}

// JoinRoom queues a join for the room named in the payload.
func (h *Hub) JoinRoom(conn interfaces.Connection, req types.JoinRoom) error {
	return h.enqueue(joinEvent{conn: conn, req: req})
}

// LeaveRoom queues a leave.
func (h *Hub) LeaveRoom(conn interfaces.Connection, req types.LeaveRoom) error {
	return h.enqueue(leaveEvent{conn: conn, req: req})
}

// SendRoomMessage queues a room message for fan-out.
func (h *Hub) SendRoomMessage(msg *types.RoomMessage) error {
	return h.enqueue(roomMessageEvent{msg: msg})
}

// DeliverDirect queues a real-time copy of a persisted direct message. The
// caller has already stored the message; an offline receiver is silent here.
func (h *Hub) DeliverDirect(msg *types.DirectMessage) error {
	return h.enqueue(directMessageEvent{msg: msg})
}

func (h *Hub) enqueue(ev event) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}
	select {
	case h.eventCh <- ev:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	defer log.Println("chat hub stopped")

	for {
		select {
		case ev := <-h.eventCh:
			h.handle(ev)
		case <-h.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handle(ev event) {
	switch e := ev.(type) {
	case registerEvent:
		h.handleRegister(e.conn)
	case unregisterEvent:
		h.handleUnregister(e.conn)
	case joinEvent:
		h.rooms.Join(e.req.RoomID, e.req.UserID, e.conn)
		log.Printf("user joined room: user=%s room=%s", e.req.UserID, e.req.RoomID)
	case leaveEvent:
		h.rooms.Leave(e.req.RoomID, e.req.UserID, e.conn)
		log.Printf("user left room: user=%s room=%s", e.req.UserID, e.req.RoomID)
	case roomMessageEvent:
		h.handleRoomMessage(e.msg)
	case directMessageEvent:
		if err := h.router.DeliverDirect(e.msg); err != nil && err != router.ErrReceiverOffline {
			log.Printf("direct delivery error: receiver=%s err=%v", e.msg.ReceiverID, err)
		}
	}
}

func (h *Hub) handleRegister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	h.registry.Add(conn)

	userID := conn.UserID()
	if userID == "" {
		// Anonymous connection: no identity-bound behavior until the client
		// reconnects with a userId.
		return
	}

	h.registry.Register(userID, conn)
	h.router.BroadcastPresence()
	h.touchUser(userID)
	log.Printf("connection registered: user=%s", userID)
}

func (h *Hub) handleUnregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	userID := conn.UserID()
	left := h.rooms.LeaveAll(userID, conn)
	removed := h.registry.Remove(conn)
	if removed != "" {
		h.router.BroadcastPresence()
	}
	log.Printf("connection closed: user=%q rooms_left=%d", userID, len(left))
}

func (h *Hub) handleRoomMessage(msg *types.RoomMessage) {
	if err := h.router.RouteRoomMessage(msg); err != nil {
		log.Printf("room message rejected: room=%s err=%v", msg.RoomID, err)
		return
	}
	if h.store != nil {
		// History persistence is a collaborator concern; the loop never
		// waits on it.
		saved := *msg
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.store.SaveRoomMessage(ctx, &saved); err != nil {
				log.Printf("room message persistence failed: room=%s err=%v", saved.RoomID, err)
			}
		}()
	}
}

func (h *Hub) touchUser(userID string) {
	if h.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.UpsertUser(ctx, userID); err != nil {
			log.Printf("user upsert failed: user=%s err=%v", userID, err)
		}
	}()
}

// Stats merges registry and room table counts for the health endpoint.
func (h *Hub) Stats() map[string]int {
	stats := h.registry.Stats()
	for k, v := range h.rooms.Stats() {
		stats[k] = v
	}
	return stats
}
