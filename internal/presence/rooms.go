package presence

import (
	"sort"
	"sync"

	"chatline/pkg/interfaces"
)

// Rooms is the room membership table. Each room carries two views of the same
// membership: the userIDs joined (the application-level answer to "who is in
// this room") and the connections attached (the delivery set for fan-out).
// Joining updates both as a single step so no partial state is observable.
//
// Rooms exist only while they have members; removing the last member deletes
// the entry at the end of the same operation, never lazily.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	members map[string]struct{}
	conns   map[interfaces.Connection]struct{}
}

// NewRooms creates an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*room)}
}

// Join adds userID and its connection to roomID, creating the room on first
// join. Joining twice has the same effect as joining once.
func (t *Rooms) Join(roomID, userID string, conn interfaces.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rm, ok := t.rooms[roomID]
	if !ok {
		rm = &room{
			members: make(map[string]struct{}),
			conns:   make(map[interfaces.Connection]struct{}),
		}
		t.rooms[roomID] = rm
	}
	rm.members[userID] = struct{}{}
	if conn != nil {
		rm.conns[conn] = struct{}{}
	}
}

// Leave removes userID and its connection from roomID. Leaving a room that
// does not exist, or leaving twice, is a no-op. A room left empty is deleted.
func (t *Rooms) Leave(roomID, userID string, conn interfaces.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rm, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(rm.members, userID)
	if conn != nil {
		delete(rm.conns, conn)
	}
	if len(rm.members) == 0 {
		delete(t.rooms, roomID)
	}
}

// LeaveAll removes a connection and its userID from every room, deleting
// rooms left empty. Used on disconnect. Returns the rooms that were left.
func (t *Rooms) LeaveAll(userID string, conn interfaces.Connection) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var left []string
	for roomID, rm := range t.rooms {
		_, wasMember := rm.members[userID]
		if conn != nil {
			if _, attached := rm.conns[conn]; attached {
				delete(rm.conns, conn)
				wasMember = true
			}
		}
		if userID != "" {
			delete(rm.members, userID)
		}
		if wasMember {
			left = append(left, roomID)
		}
		if len(rm.members) == 0 {
			delete(t.rooms, roomID)
		}
	}
	sort.Strings(left)
	return left
}

// MembersOf returns the userIDs currently joined to roomID, sorted. An
// unknown room yields an empty slice, not an error.
func (t *Rooms) MembersOf(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rm, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(rm.members))
	for userID := range rm.members {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members
}

// ConnectionsIn returns the delivery set for roomID.
func (t *Rooms) ConnectionsIn(roomID string) []interfaces.Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rm, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]interfaces.Connection, 0, len(rm.conns))
	for conn := range rm.conns {
		conns = append(conns, conn)
	}
	return conns
}

// RoomIDs enumerates the rooms that currently have members, sorted.
func (t *Rooms) RoomIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.rooms))
	for roomID := range t.rooms {
		ids = append(ids, roomID)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports table sizes for the health endpoint.
func (t *Rooms) Stats() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, rm := range t.rooms {
		total += len(rm.members)
	}
	return map[string]int{
		"rooms":       len(t.rooms),
		"memberships": total,
	}
}
