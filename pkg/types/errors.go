package types

import "errors"

// Validation errors shared across components so handlers can map them to
// consistent responses.
var (
	ErrInvalidUserID  = errors.New("user ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidRoomID  = errors.New("room ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrEmptyMessage   = errors.New("message must carry text or an attachment")
	ErrTextTooLarge   = errors.New("message text exceeds 64KB limit")
	ErrInvalidPayload = errors.New("invalid event payload")
)
