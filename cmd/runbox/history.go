package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/storage"
)

var (
	historySession string
	outcomeFilter  string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	olderThanFlag  time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the execution history (requires storage.db_path)",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution and its code",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export executions as markdown or JSON",
	Args:  cobra.NoArgs,
	RunE:  runHistoryExport,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete executions older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyPruneCmd)

	for _, c := range []*cobra.Command{historyListCmd, historyExportCmd} {
		c.Flags().StringVar(&historySession, "session", "", "Only executions of this session")
		c.Flags().StringVar(&outcomeFilter, "outcome", "", "Filter by outcome (success, runtime_error, timed_out, security_rejected, internal_failure)")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max executions to show")
	}

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	historyPruneCmd.Flags().DurationVar(&olderThanFlag, "older-than", 30*24*time.Hour, "Age of the newest execution to delete")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("execution history is disabled; set storage.db_path")
	}
	return store, nil
}

func listOptions() storage.ListOptions {
	return storage.ListOptions{
		SessionID: historySession,
		Outcome:   outcomeFilter,
		Limit:     limitFlag,
	}
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListExecutions(context.Background(), listOptions())
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-10s %-18s %-9s %-40s %s\n", "ID", "SESSION", "OUTCOME", "TIME", "CODE", "WHEN")
	fmt.Println(strings.Repeat("─", 105))

	for _, r := range records {
		fmt.Printf("%-10s %-10s %-18s %-9s %-40s %s\n",
			short(r.ID), short(r.SessionID), r.Outcome,
			fmt.Sprintf("%dms", r.DurationMs), truncate(firstLine(r.Code), 38), timeAgo(r.CreatedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetExecution(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Execution: %s\n", r.ID)
	fmt.Printf("Session:   %s\n", r.SessionID)
	fmt.Printf("Outcome:   %s\n", r.Outcome)
	fmt.Printf("Duration:  %dms\n", r.DurationMs)
	fmt.Printf("Output:    %d bytes stdout, %d bytes stderr\n", r.StdoutBytes, r.StderrBytes)
	fmt.Printf("Created:   %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Println(strings.Repeat("─", 60))
	fmt.Println(strings.TrimRight(r.Code, "\n"))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListExecutions(context.Background(), listOptions())
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(records)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(records)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.PruneBefore(context.Background(), time.Now().Add(-olderThanFlag))
	if err != nil {
		return err
	}
	fmt.Printf("%d execution(s) pruned\n", n)
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// truncate keeps at most maxLen runes of s.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLen {
		return string([]rune(s)[:maxLen]) + "..."
	}
	return s
}
