package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve runbox as an MCP tool server over stdio",
	Long: `Serve the execute_code, new_session and delete_session tools over the
Model Context Protocol on stdin/stdout. Logs go to stderr.

Example client config:
  {"command": "runbox", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	janitor, err := a.newJanitor()
	if err != nil {
		return err
	}
	go janitor.Run(ctx)

	return tools.ServeStdio(tools.NewServer(a.runner, version))
}
