package source

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by a source or camera that has been closed.
	ErrClosed = errors.New("camera has been closed")
	// ErrDisconnected is returned by a camera whose device went away. Sources turn it into a
	// CaptureError with Disconnected set.
	ErrDisconnected = errors.New("camera is disconnected")
)

// DeviceError means a camera could not be opened or produced no usable first frame.
type DeviceError struct {
	Model string
	Err   error
}

func (e *DeviceError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("failed to open camera: %v", e.Err)
	}
	return fmt.Sprintf("failed to open %q camera: %v", e.Model, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// CaptureError is a failure to fetch the next frame from an open camera.
type CaptureError struct {
	Err error
	// Disconnected is set when the device is gone and retrying cannot succeed.
	Disconnected bool
}

func (e *CaptureError) Error() string {
	if e.Disconnected {
		return fmt.Sprintf("camera disconnected: %v", e.Err)
	}
	return fmt.Sprintf("failed to capture frame: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// DecodeError is a frame that could not be decoded. It reaches callers wrapped in a CaptureError.
type DecodeError struct {
	MimeType string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.MimeType == "" {
		return fmt.Sprintf("failed to decode frame: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s frame: %v", e.MimeType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a capture failure that may succeed on a later attempt.
func IsRetryable(err error) bool {
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) {
		return false
	}
	return !captureErr.Disconnected && !errors.Is(captureErr.Err, ErrClosed)
}

// IsDisconnected reports whether err means the device is gone.
func IsDisconnected(err error) bool {
	var captureErr *CaptureError
	return errors.As(err, &captureErr) && captureErr.Disconnected
}

// asCaptureError classifies a camera read failure.
func asCaptureError(err error) error {
	var captureErr *CaptureError
	if errors.As(err, &captureErr) {
		return err
	}
	return &CaptureError{Err: err, Disconnected: errors.Is(err, ErrDisconnected)}
}
