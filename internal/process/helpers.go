package process

import (
	"errors"
	"strings"
)

// errEarlyExit is returned when the child process exits before the
// Supervisor can confirm it reached the Running state (spec.md §4.1 step 9).
func errEarlyExit(detail string) error {
	msg := "process exited before reaching running state"
	if detail != "" {
		msg += ": " + detail
	}
	return errors.New(msg)
}

// IsEarlyExitErr reports whether err indicates the early-exit condition
// handled by errEarlyExit.
func IsEarlyExitErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "exited before reaching running state")
}
