package bridge

import "errors"

var (
	// ErrControllerDisconnected reports that the controller link closed.
	ErrControllerDisconnected = errors.New("controller disconnected")
	// ErrHostDisconnected reports that the host link closed.
	ErrHostDisconnected = errors.New("host disconnected")
)
