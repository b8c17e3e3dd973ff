package presence

import (
	"log"
	"sort"
	"sync"

	"chatline/pkg/interfaces"
)

// Registry tracks every live connection and the userID -> connection mapping
// for identified ones. It is pure state: presence broadcasts and persistence
// side effects belong to the hub. Mutations arrive only from the hub
// goroutine; the RWMutex exists for HTTP handlers reading concurrently.
type Registry struct {
	mu          sync.RWMutex
	connections map[interfaces.Connection]struct{}
	byUser      map[string]interfaces.Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[interfaces.Connection]struct{}),
		byUser:      make(map[string]interfaces.Connection),
	}
}

// Add tracks a connection for global broadcasts. Anonymous connections are
// added here but never enter the user mapping.
func (r *Registry) Add(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn] = struct{}{}
}

// Register maps userID to conn, unconditionally overwriting any existing
// mapping (last-connect-wins). The displaced connection is closed
// asynchronously so a client reconnect never deadlocks against its own
// stale connection.
func (r *Registry) Register(userID string, conn interfaces.Connection) {
	if conn == nil || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUser[userID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("close displaced connection failed: user=%s err=%v", userID, err)
			}
		}()
	}
	r.byUser[userID] = conn
}

// Remove forgets a connection. The user mapping is deleted only when it still
// points at this exact connection, so tearing down a replaced connection
// never evicts its successor. Returns the userID whose mapping was removed,
// or "" when presence did not change.
func (r *Registry) Remove(conn interfaces.Connection) string {
	if conn == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, conn)

	userID := conn.UserID()
	if userID == "" {
		return ""
	}
	if registered, ok := r.byUser[userID]; ok && registered == conn {
		delete(r.byUser, userID)
		return userID
	}
	return ""
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Snapshot returns the currently registered user identifiers, sorted so
// presence payloads are deterministic.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Connections returns every live connection, identified or not, for global
// broadcasts such as the presence snapshot.
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports registry sizes for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections":      len(r.connections),
		"registered_users": len(r.byUser),
	}
}
