//go:build windows

package process

import "os/exec"

// shellArgv returns the argv form of a shell invocation on Windows systems.
func shellArgv(script string) []string {
	return []string{"cmd", "/c", script}
}

// getTrueCommand returns a command that always succeeds on Windows systems.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
