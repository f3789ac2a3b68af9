package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. They can be checked with errors.Is.
var (
	// ErrNotCartridgePath is returned when a path has no boundary segment.
	ErrNotCartridgePath = errors.New("upy: path is not inside a cartridge")

	// ErrShutdownTimeout is returned when in-flight work outlives the grace period.
	ErrShutdownTimeout = errors.New("upy: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("upy: invalid configuration")

	// ErrNoCartridges is returned when discovery finds nothing to sync.
	ErrNoCartridges = errors.New("upy: no cartridges found")

	// ErrCartridgesFailed is returned by an upload-only run in which at
	// least one cartridge failed to pack or deploy.
	ErrCartridgesFailed = errors.New("upy: one or more cartridges failed")

	// ErrInvalidTransition is returned when a cartridge state change is not allowed.
	ErrInvalidTransition = errors.New("upy: invalid state transition")

	// ErrUnknownCartridge is returned for a cartridge that is not tracked.
	ErrUnknownCartridge = errors.New("upy: unknown cartridge")
)

// DiscoveryIOError reports a directory that could not be read during discovery.
// Only the subtree below Path is skipped.
type DiscoveryIOError struct {
	Path string
	Err  error
}

func (e *DiscoveryIOError) Error() string {
	return fmt.Sprintf("discovery: read %s: %v", e.Path, e.Err)
}

func (e *DiscoveryIOError) Unwrap() error { return e.Err }

// PackagingError reports a source file that could not be archived.
// It aborts the archive of Cartridge only.
type PackagingError struct {
	Cartridge string
	Path      string
	Err       error
}

func (e *PackagingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("pack %s: %v", e.Cartridge, e.Err)
	}
	return fmt.Sprintf("pack %s: %s: %v", e.Cartridge, e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// RemoteAuthError is returned when the server rejects the credentials.
type RemoteAuthError struct {
	Method string
	Path   string
	Code   int
}

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("%s %s: authentication rejected (status %d)", e.Method, e.Path, e.Code)
}

// RemoteTimeoutError is returned when a request exceeds its deadline.
type RemoteTimeoutError struct {
	Method string
	Path   string
	Err    error
}

func (e *RemoteTimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.Path, e.Err)
}

func (e *RemoteTimeoutError) Unwrap() error { return e.Err }

// RemoteStatusError is returned for any other non-2xx response.
type RemoteStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: server returned %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: server returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// RemoteTransportError is returned when the request never got a response,
// e.g. connection refused or name resolution failure.
type RemoteTransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *RemoteTransportError) Unwrap() error { return e.Err }

// PathNormalizationError reports an event path outside any cartridge boundary.
type PathNormalizationError struct {
	Path     string
	Boundary string
}

func (e *PathNormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: no %q segment: %v", e.Path, e.Boundary, ErrNotCartridgePath)
}

func (e *PathNormalizationError) Unwrap() error { return ErrNotCartridgePath }

// WatchRegistrationError reports a cartridge directory that could not be watched.
type WatchRegistrationError struct {
	Cartridge string
	Path      string
	Err       error
}

func (e *WatchRegistrationError) Error() string {
	return fmt.Sprintf("watch %s: %s: %v", e.Cartridge, e.Path, e.Err)
}

func (e *WatchRegistrationError) Unwrap() error { return e.Err }

// Deploy steps, in the order they run.
const (
	StepUpload = "upload"
	StepUnpack = "unpack"
	StepDelete = "delete"
)

// DeployError reports the step at which a cartridge deploy stopped.
type DeployError struct {
	Cartridge string
	Step      string
	Err       error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.Cartridge, e.Step, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }
