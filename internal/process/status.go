package process

import "time"

// Status is the live OS-level snapshot of a managed child, as observed by
// this package. internal/registry composes this into the richer
// ProcessRecord shape defined by spec.md §3.
type Status struct {
	Name       string
	PID        int
	GroupID    int // process group id; equals PID since the child is its own group leader
	Running    bool
	StartedAt  time.Time
	StoppedAt  time.Time
	ExitErr    error
	DetectedBy string

	// startUnix is the OS-reported process start time (Unix seconds), used by
	// DetectAlive to notice PID reuse: a dead child reaped by the OS and
	// replaced by an unrelated process sharing the same pid would otherwise
	// read back as still running.
	startUnix int64
}
