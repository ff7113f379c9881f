// Command lb3d is the Little Brother capture daemon: a cobra root with
// run/status/recover/diag subcommands, grounded on the teacher's
// cmd/wtd/main.go (single-binary daemon entrypoint) and cmd/wt/*.go
// (one-file-per-subcommand cobra layout, RunE returning wrapped errors).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPathFlag string

func main() {
	root := &cobra.Command{
		Use:   "lb3d",
		Short: "Little Brother capture daemon",
		Long:  "Captures foreground-window, input-dynamics, browser, and file-system activity to a local, privacy-preserving spool.",
	}
	root.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to the YAML settings file (default ~/.lb3/lb3.yaml)")

	root.AddCommand(
		runCmd(),
		statusCmd(),
		recoverCmd(),
		diagCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
