package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/runner"
)

var sessionFlag string

var execCmd = &cobra.Command{
	Use:   "exec [file|-]",
	Short: "Run a snippet once through the full pipeline",
	Long: `Vet and run a Python snippet locally, exactly as the server would.

The snippet is read from the given file, or from stdin when the argument is
"-" or omitted. Without --session a new session is created and kept.

Examples:
  runbox exec script.py
  echo "print(1 + 1)" | runbox exec
  runbox exec --session 3f2a... script.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&sessionFlag, "session", "", "Existing session to run in")
	rootCmd.AddCommand(execCmd)
}

// readSnippet reads the file named by args[0], or stdin.
func readSnippet(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readSnippet(cmd, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.runner.Execute(ctx, runner.Request{Code: code, SessionID: sessionFlag})
	if err != nil {
		var rej *gate.Rejection
		if errors.As(err, &rej) {
			return errors.New("Security Error: " + rej.Error())
		}
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	fmt.Fprintf(cmd.ErrOrStderr(), "\033[90msession %s | %s | %s\033[0m\n", res.SessionID, res.Outcome, res.Duration.Round(time.Millisecond))

	if res.Failed() {
		return errSilent
	}
	return nil
}
