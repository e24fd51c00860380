package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by StartContinuous while a loop
	// is active. Callers stop the current loop first; a second start
	// never silently restarts it.
	ErrAlreadyRunning = errors.New("vision: continuous loop already running")

	// ErrNotRunning is returned by StopContinuous when no loop is
	// active.
	ErrNotRunning = errors.New("vision: continuous loop not running")

	// ErrInvalidInterval rejects non-positive loop intervals.
	ErrInvalidInterval = errors.New("vision: interval must be positive")

	// ErrNoSource indicates the system was built without a camera
	// source. Surfaces wrapped in a CaptureError.
	ErrNoSource = errors.New("vision: no camera source configured")

	// ErrNoProvider indicates the system was built without an
	// inference provider. Surfaces wrapped in an AnalysisError.
	ErrNoProvider = errors.New("vision: no inference provider configured")

	// ErrMonitorRunning is returned by Monitor.Start while the
	// monitor is active.
	ErrMonitorRunning = errors.New("vision: monitor already running")

	// ErrMonitorNotRunning is returned by Monitor.Stop when the
	// monitor is not active.
	ErrMonitorNotRunning = errors.New("vision: monitor not running")
)

// CaptureError wraps a frame acquisition failure: device missing,
// busy, or no frame produced.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("vision: capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// AnalysisError wraps a provider failure: network, auth, or a
// malformed response.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("vision: analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NotificationError wraps a speech delivery failure. Non-fatal: it is
// recorded in status but never aborts a describe cycle or the loop.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("vision: notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
