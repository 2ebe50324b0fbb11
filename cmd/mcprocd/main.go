package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the daemon version reported by DaemonStatus and compared by
// clients for compatibility (spec §6: "the status RPC returns a daemon
// version; clients compare and may refuse to proceed against an
// incompatible daemon").
const Version = "0.1.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "mcprocd",
		Short: "Resident process supervisor daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to daemon config file (toml/yaml/json)")

	root.AddCommand(
		newServeCmd(&configPath),
		newStopCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}
