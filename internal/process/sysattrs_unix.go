//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so the
// Supervisor can signal it and its descendants together on Stop/Kill
// (spec.md §4.1 *Stop* step 3, §6 "process group").
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
