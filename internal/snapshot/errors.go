package snapshot

import (
	"errors"
	"fmt"
)

// ErrNoBaseline means no BEFORE snapshot exists for a tracked launch.
var ErrNoBaseline = errors.New("no baseline snapshot")

// SnapshotError reports a failed enumeration. Tracking for that launch
// degrades to the primary pid.
type SnapshotError struct {
	Service string
	Phase   string // "before" or "after"
	Err     error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s (%s): %v", e.Service, e.Phase, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }
