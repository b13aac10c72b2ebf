package process

import (
	"errors"
	"fmt"
)

// IOMode selects how a child's standard streams are wired.
type IOMode int

const (
	// IOModeMerged sends stderr into the same pipe as stdout.
	IOModeMerged IOMode = iota
	// IOModeSeparate keeps stderr apart and drains it into the logger.
	IOModeSeparate
	// IOModePTY runs the child on a pseudo-terminal; stdout and stderr
	// both arrive on the terminal side.
	IOModePTY
)

// String returns the mode name used in logs and catalog files
func (m IOMode) String() string {
	switch m {
	case IOModeMerged:
		return "merged"
	case IOModeSeparate:
		return "separate"
	case IOModePTY:
		return "pty"
	default:
		return "unknown"
	}
}

// ParseIOMode parses a catalog value. Empty means separate.
func ParseIOMode(s string) (IOMode, error) {
	switch s {
	case "", "separate":
		return IOModeSeparate, nil
	case "merged":
		return IOModeMerged, nil
	case "pty":
		return IOModePTY, nil
	default:
		return 0, fmt.Errorf("invalid io mode %q", s)
	}
}

// Spec describes a child process to start.
type Spec struct {
	// Name labels the process in logs and metrics
	Name string
	// Path is an executable name or path, resolved through PATH
	Path string
	Args []string
	// Env is appended to the server's own environment
	Env    []string
	Dir    string
	IOMode IOMode
}

var (
	// ErrSpawn marks a failure to start a child. Spawns are never retried.
	ErrSpawn = errors.New("process spawn failed")
	// ErrUnknownKind is returned for a selector missing from the catalog.
	ErrUnknownKind = errors.New("unknown process kind")
	// ErrExited is returned when writing to a process that has exited.
	ErrExited = errors.New("process exited")
)

// SpawnError wraps the underlying exec failure.
type SpawnError struct {
	Name string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Path, e.Err)
}

// Unwrap matches both ErrSpawn and the exec cause.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}
