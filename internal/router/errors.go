package router

import "errors"

// Routing outcomes. ErrReceiverOffline is expected behavior for direct
// messages to users without a live connection.
var (
	ErrReceiverOffline = errors.New("receiver has no live connection")
	ErrDeliveryFailed  = errors.New("message could not be written to receiver connection")
)
