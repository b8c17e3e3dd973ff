package hub

import "errors"

// Hub lifecycle and backpressure errors.
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEventChannelFull  = errors.New("hub event channel is full")
)
