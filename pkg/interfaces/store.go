package interfaces

import (
	"context"

	"chatline/pkg/types"
)

// MessageStore is the persistence collaborator. The real-time core never
// depends on a call here completing; every use from the event loop is
// dispatched asynchronously.
type MessageStore interface {
	// SaveDirectMessage persists a direct message and fills in its ID when
	// the store assigns one.
	SaveDirectMessage(ctx context.Context, msg *types.DirectMessage) error

	// GetConversation returns the direct messages exchanged between two users
	// in chronological order.
	GetConversation(ctx context.Context, userA, userB string, limit int) ([]*types.DirectMessage, error)

	// SaveRoomMessage persists a room message for history replay.
	SaveRoomMessage(ctx context.Context, msg *types.RoomMessage) error

	// GetRoomHistory returns a room's messages in chronological order.
	GetRoomHistory(ctx context.Context, roomID string, limit int) ([]*types.RoomMessage, error)

	// UpsertUser records that an identity connected, updating last-seen.
	UpsertUser(ctx context.Context, userID string) error

	// ListUsers returns every known user except excludeID.
	ListUsers(ctx context.Context, excludeID string) ([]*types.User, error)

	// HealthCheck verifies connectivity and basic reads.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}
