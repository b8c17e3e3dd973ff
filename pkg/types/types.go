package types

import (
	"time"
)

// Event names exchanged over the WebSocket transport. Client-to-server events
// carry a payload struct; server-to-client events reuse the same envelope.
const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventRoomMessage    = "roomMessage"
	EventGetOnlineUsers = "getOnlineUsers"
	EventNewMessage     = "newMessage"
)

// DirectMessage is a one-to-one message. Image and Video hold references
// (URLs or data URIs) supplied by the client; the server stores them opaquely.
type DirectMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"`
	Video      string    `json:"video,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RoomMessage is broadcast to every member of a room, sender included.
// The ID is assigned server-side so clients can deduplicate on redelivery.
type RoomMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is the persisted record of an identity that has connected at least
// once. Identity itself is established upstream; this is bookkeeping for the
// conversation list endpoint.
type User struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// JoinRoom is the payload of EventJoinRoom.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// LeaveRoom is the payload of EventLeaveRoom.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}
