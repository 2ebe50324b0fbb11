package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/mcprocd/mcprocd/internal/paths"
)

// daemonizeSelf re-execs the current binary with --daemonize stripped,
// detached into its own session with inherited stdio discarded (the child
// logs only through its own logger.Config.Path), then exits the parent.
func daemonizeSelf(runtimeRoot string) error {
	if os.Getppid() == 1 {
		// Already re-exec'd and reparented to init; this is the daemon child.
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	var childArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "--daemonize" {
			continue
		}
		childArgs = append(childArgs, arg)
	}

	if err := paths.EnsureRuntimeRoot(runtimeRoot); err != nil {
		return fmt.Errorf("ensure runtime root: %w", err)
	}

	// #nosec G204 -- re-execing our own resolved binary path with the caller's own flags
	cmd := exec.Command(executable, childArgs...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon child: %w", err)
	}

	fmt.Printf("mcprocd started with pid %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}
