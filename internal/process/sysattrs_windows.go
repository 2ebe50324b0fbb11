//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// CREATE_NEW_PROCESS_GROUP allows the group to be signalled together.
const CREATE_NEW_PROCESS_GROUP = 0x00000200

// configureSysProcAttr places the child in a new process group so the
// Supervisor can signal it and its descendants together on Stop/Kill.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: CREATE_NEW_PROCESS_GROUP}
}
