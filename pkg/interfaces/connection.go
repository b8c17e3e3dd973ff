package interfaces

// Connection is a live bidirectional channel to one client. The WebSocket
// wrapper implements it; tests substitute in-memory fakes.
type Connection interface {
	// WriteJSON sends a JSON message to the client. Implementations must be
	// safe for use from multiple goroutines.
	WriteJSON(v interface{}) error

	// Close tears down the connection. Safe to call more than once.
	Close() error

	// UserID returns the identity supplied at connection time, or "" for an
	// anonymous connection.
	UserID() string
}
