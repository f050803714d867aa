package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var vetCmd = &cobra.Command{
	Use:   "vet [file|-]",
	Short: "Check a snippet against the denylist without running it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVet,
}

func init() {
	rootCmd.AddCommand(vetCmd)
}

func runVet(cmd *cobra.Command, args []string) error {
	code, err := readSnippet(cmd, args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	verdict, err := newGate(cfg).Vet(context.Background(), code)
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", verdict.Reason())
		return errSilent
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
