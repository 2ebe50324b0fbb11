package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcprocd/mcprocd/internal/paths"
)

// newStopCmd signals a running daemon (identified by its pidfile) to shut
// down. This governs the daemon process itself, not a managed child — the
// external CLI presentation layer (out of scope here) is what exposes
// Stop/Restart/Clean for managed processes over the RPC contract.
func newStopCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtimeRoot := paths.RuntimeRoot()
			pid, err := paths.ReadPIDFile(paths.PIDFilePath(runtimeRoot))
			if err != nil {
				return fmt.Errorf("no running daemon found at %s: %w", runtimeRoot, err)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			if wait > 0 {
				deadline := time.Now().Add(wait)
				for time.Now().Before(deadline) {
					if err := proc.Signal(syscall.Signal(0)); err != nil {
						fmt.Printf("daemon %d stopped\n", pid)
						return nil
					}
					time.Sleep(100 * time.Millisecond)
				}
				return fmt.Errorf("daemon %d did not stop within %s", pid, wait)
			}
			fmt.Printf("sent SIGTERM to daemon %d\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "block until the daemon exits or this timeout elapses")
	return cmd
}
