//go:build !windows

package process

import "os/exec"

// shellArgv returns the argv form of a shell invocation on Unix systems.
func shellArgv(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

// getTrueCommand returns a command that always succeeds on Unix systems.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
