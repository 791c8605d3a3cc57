package serial

import "github.com/kabili207/ocbridge/core"

// Detection errors, aliased so callers can match without importing core.
var (
	ErrNoDevice        = core.ErrNoDevice
	ErrMultipleDevices = core.ErrMultipleDevices
)
