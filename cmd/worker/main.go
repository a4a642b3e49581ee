// mediary-worker is the background operation worker of the mediary
// media-collection manager. It claims durable operations from the
// shared PostgreSQL queue and runs them through the serial and
// parallel processors.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// configFlag holds the value of the --config persistent flag. Empty
// means "default search paths and environment only".
var configFlag string

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "mediary-worker",
		Short:         "Background operation worker for mediary",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "",
		"path to the config file (default: mediary.yaml in . or /etc/mediary)")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newRunCmd(),
		newMigrateCmd(stdout),
		newEnqueueCmd(stdout),
	)
	return root
}
