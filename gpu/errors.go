package gpu

import (
	"fmt"

	"github.com/pkg/errors"
)

// GpuInitError is returned when no compatible adapter or device is available.
//
//nolint:revive
type GpuInitError struct {
	Err error
}

func (e *GpuInitError) Error() string {
	return fmt.Sprintf("failed to initialize gpu: %v", e.Err)
}

func (e *GpuInitError) Unwrap() error {
	return e.Err
}

// SurfaceErrorKind classifies why a surface texture could not be acquired.
type SurfaceErrorKind int

// Surface error kinds.
const (
	SurfaceErrorTimeout SurfaceErrorKind = iota
	SurfaceErrorOutdated
	SurfaceErrorLost
	SurfaceErrorOutOfMemory
)

func (k SurfaceErrorKind) String() string {
	switch k {
	case SurfaceErrorTimeout:
		return "timeout"
	case SurfaceErrorOutdated:
		return "outdated"
	case SurfaceErrorLost:
		return "lost"
	case SurfaceErrorOutOfMemory:
		return "out of memory"
	}
	return "unknown"
}

// SurfaceError is returned when the next presentable texture cannot be acquired.
type SurfaceError struct {
	Kind SurfaceErrorKind
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("failed to acquire next surface texture: %s", e.Kind)
}

// NeedsReconfigure reports whether the surface must be configured again before it can be used.
func (e *SurfaceError) NeedsReconfigure() bool {
	return e.Kind == SurfaceErrorOutdated || e.Kind == SurfaceErrorLost
}

// IsSurfaceError reports whether err is, or wraps, a SurfaceError.
func IsSurfaceError(err error) (*SurfaceError, bool) {
	var surfaceErr *SurfaceError
	if errors.As(err, &surfaceErr) {
		return surfaceErr, true
	}
	return nil, false
}
