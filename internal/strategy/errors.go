package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrNotExecutable       = errors.New("file is not executable")
	ErrIsDirectory         = errors.New("path is a directory")
	ErrNotDirectory        = errors.New("path is not a directory")
	ErrEmptyCommand        = errors.New("command is empty")
	ErrWorkspaceRequired   = errors.New("workspace is required")
	ErrInterpreterNotFound = errors.New("interpreter not found")
	ErrBundleExecutable    = errors.New("no executable inside bundle")
)

// LaunchError reports a command that could not be resolved or spawned.
// A service that fails this way is not retried automatically.
type LaunchError struct {
	Service string
	Op      string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func resolveErr(def string, err error) error {
	return &LaunchError{Service: def, Op: "resolve", Err: err}
}
