package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
//
// Failures of device operations themselves are classified with the fwerr
// sentinels instead.
var (
	// ErrDeviceNotFound is returned when a device ID is neither live nor in the history.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device whose ID is already live.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device has no physical id and thus no ID.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidQuirkValue is returned when a quirk key is owned by the device
	// but its value cannot be parsed.
	ErrInvalidQuirkValue = errors.New("device: invalid quirk value")
)
