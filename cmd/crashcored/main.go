// Command crashcored loads a YAML configuration file and enables the
// in-process crash reporter, the way internal/signaldriver.Enable
// describes: it installs the fault-signal handlers, then blocks until
// SIGINT or SIGTERM requests a clean shutdown.
//
// Usage:
//
//	crashcored run --config /etc/crashcore/config.yaml
//	crashcored validate --config /etc/crashcore/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crashcored: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crashcored",
		Short: "In-process crash reporter daemon",
	}
	root.AddCommand(newRunCmd(), newValidateCmd())
	return root
}
