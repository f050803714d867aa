package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configFlag string

// errSilent exits with status 1 after the command already reported why.
var errSilent = errors.New("")

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "runbox - remote Python snippet execution",
	Long: `runbox runs Python snippets submitted over HTTP, WebSocket or MCP.

Each snippet is vetted against a denylist of modules and builtins, then run
as a child interpreter inside a per-session working directory with a hard
timeout. The denylist is a convenience, not a sandbox.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./runbox.yaml or $HOME/.runbox/runbox.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
