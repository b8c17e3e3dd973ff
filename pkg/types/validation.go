package types

import "regexp"

const maxTextBytes = 65536 // 64KB

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID reports whether a user identifier is acceptable on the wire.
// The core treats identity as opaque but still bounds it for storage and
// display.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidRoomID reports whether a room identifier is acceptable. Rooms are
// created implicitly on first join, so this is the only gate they pass.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 50 {
		return false
	}
	return idRegex.MatchString(roomID)
}

// Validate checks a direct message before persistence and delivery.
func (m *DirectMessage) Validate() error {
	if !IsValidUserID(m.SenderID) || !IsValidUserID(m.ReceiverID) {
		return ErrInvalidUserID
	}
	if m.Text == "" && m.Image == "" && m.Video == "" {
		return ErrEmptyMessage
	}
	if len(m.Text) > maxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

// Validate checks a room message before fan-out.
func (m *RoomMessage) Validate() error {
	if !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if m.Text == "" {
		return ErrEmptyMessage
	}
	if len(m.Text) > maxTextBytes {
		return ErrTextTooLarge
	}
	return nil
}

// Validate checks a join/leave payload.
func (j *JoinRoom) Validate() error {
	if !IsValidRoomID(j.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(j.UserID) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate checks a leave payload; the rules match JoinRoom.
func (l *LeaveRoom) Validate() error {
	if !IsValidRoomID(l.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(l.UserID) {
		return ErrInvalidUserID
	}
	return nil
}
