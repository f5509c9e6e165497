// Package fwerr defines the error classification shared by every device
// operation: probe, setup, open, transfer and quirk handling.
//
// Callers classify failures with errors.Is:
//
//	if errors.Is(err, fwerr.ErrNotSupported) {
//	    // skip this device
//	}
//
// Every helper wraps one of the sentinels so the classification survives
// further wrapping with fmt.Errorf("...: %w", err).
package fwerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned for a device or feature mismatch: a missing
	// identifying property, a partition on the inactive boot slot, a quirk key
	// the device does not own, or permission denied when opening a transport.
	// The coordinator skips the device (or retries with other privileges).
	ErrNotSupported = errors.New("not supported")

	// ErrFailed is returned when a precondition of the current operation is
	// violated, e.g. the fields needed to address the transport are missing.
	ErrFailed = errors.New("failed")

	// ErrReadError is returned when the firmware payload cannot be obtained or
	// reading from the hardware fails.
	ErrReadError = errors.New("read error")

	// ErrCancelled is returned when a transfer observed a cancellation request
	// at a chunk boundary.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidState is returned when an operation is requested in a
	// lifecycle state that does not allow it.
	ErrInvalidState = errors.New("invalid state")
)

// NotSupported returns an error classified as ErrNotSupported.
func NotSupported(format string, args ...any) error {
	return wrap(ErrNotSupported, format, args...)
}

// Failed returns an error classified as ErrFailed.
func Failed(format string, args ...any) error {
	return wrap(ErrFailed, format, args...)
}

// ReadError returns an error classified as ErrReadError.
func ReadError(format string, args ...any) error {
	return wrap(ErrReadError, format, args...)
}

// Reclassify wraps err with kind while keeping err in the chain, so both
// errors.Is(result, kind) and errors.Is(result, <original cause>) hold.
func Reclassify(kind error, err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", kind, context, err)
}

// Kind returns the sentinel err is classified as, or nil when err carries
// none of them.
func Kind(err error) error {
	for _, kind := range []error{ErrNotSupported, ErrFailed, ErrReadError, ErrCancelled, ErrInvalidState} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
