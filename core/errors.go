// Package core holds the error taxonomy and build information shared by the
// bridge packages. Packages wrap these sentinels with context using %w so
// callers can classify failures with errors.Is.
package core

import "errors"

// Version is the bridge version reported over the control plane. It is
// overridden at link time with -ldflags "-X".
var Version = "0.1.0-dev"

var (
	// ErrDeviceOpen reports that the serial device could not be opened.
	ErrDeviceOpen = errors.New("device open failed")
	// ErrBind reports that a network listener could not bind its port.
	ErrBind = errors.New("network bind failed")
	// ErrMalformedRequest reports an unparseable or unsupported control
	// request.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrIO reports a filesystem failure.
	ErrIO = errors.New("filesystem I/O failed")
	// ErrInvalidConfig reports a configuration value outside its domain.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrExternalCommand reports a command rejected by a running daemon.
	ErrExternalCommand = errors.New("external command failed")
	// ErrNoDevice reports that discovery found no matching device.
	ErrNoDevice = errors.New("no device found")
	// ErrMultipleDevices reports that discovery found more than one match.
	ErrMultipleDevices = errors.New("multiple devices found")
	// ErrUnsupportedPlatform reports a feature unavailable on this OS.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrRuntimeInit reports a failure setting up the process runtime.
	ErrRuntimeInit = errors.New("runtime initialization failed")
	// ErrAlreadyRunning reports that another bridge instance holds the lock.
	ErrAlreadyRunning = errors.New("another instance is already running")
)
