package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/runner"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run snippets interactively in one session",
	Long: `Start an interactive prompt. Every entry runs as a separate process in the
same session directory, so files persist between entries but variables do not.

A line ending in ":" opens a block; finish it with an empty line.

Examples:
  runbox repl
  runbox repl --session 3f2a...`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().StringVar(&sessionFlag, "session", "", "Existing session to attach to")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := sessionFlag
	if sessionID == "" {
		sessionID, err = a.runner.NewSession(ctx)
		if err != nil {
			return err
		}
	} else if _, err := a.sessions.Resolve(sessionID); err != nil {
		return err
	}

	fmt.Printf("runbox %s - interactive session\n", version)
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>>>\033[0m ",
		HistoryFile:     "/tmp/runbox_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Per-request cancellation: Ctrl+C kills the running snippet, not the REPL.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	for {
		input, err := readEntry(rl)
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if strings.TrimSpace(input) == "" {
			continue
		}

		// Handle slash commands
		if strings.HasPrefix(strings.TrimSpace(input), "/") {
			quit, next := handleCommand(ctx, a, strings.TrimSpace(input), sessionID)
			if quit {
				fmt.Println("Goodbye!")
				return nil
			}
			sessionID = next
			continue
		}

		reqCtx, cancel := context.WithCancel(ctx)
		reqCancel = cancel
		res, err := a.runner.Execute(reqCtx, runner.Request{Code: input, SessionID: sessionID})
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if err != nil {
			var rej *gate.Rejection
			if errors.As(err, &rej) {
				fmt.Printf("\033[31mSecurity Error: %s\033[0m\n\n", rej.Error())
			} else {
				fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			}
			continue
		}
		if wasInterrupted {
			fmt.Println("(interrupted)")
			continue
		}

		fmt.Print(res.Stdout)
		if res.Stderr != "" {
			fmt.Printf("\033[31m%s\033[0m", res.Stderr)
			if !strings.HasSuffix(res.Stderr, "\n") {
				fmt.Println()
			}
		}
	}
}

// readEntry reads one line, or a whole block when the line opens one.
func readEntry(rl *readline.Instance) (string, error) {
	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(strings.TrimRight(line, " \t"), ":") {
		return line, nil
	}

	lines := []string{line}
	rl.SetPrompt("\033[36m...\033[0m ")
	defer rl.SetPrompt("\033[36m>>>\033[0m ")
	for {
		next, err := rl.Readline()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(next) == "" {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, next)
	}
}

// handleCommand runs a slash command and returns the session to continue in.
func handleCommand(ctx context.Context, a *app, input, sessionID string) (quit bool, next string) {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		return true, sessionID
	case "/session":
		fmt.Printf("Session: %s\n\n", sessionID)
	case "/new":
		id, err := a.runner.NewSession(ctx)
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			return false, sessionID
		}
		fmt.Printf("Switched to new session %s\n\n", id)
		return false, id
	case "/files":
		dir, err := a.sessions.Resolve(sessionID)
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			return false, sessionID
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
			return false, sessionID
		}
		for _, e := range entries {
			fmt.Printf("  %s\n", e.Name())
		}
		fmt.Println()
	case "/vet":
		code := strings.TrimSpace(strings.TrimPrefix(input, strings.Fields(input)[0]))
		verdict, err := a.runner.Vet(ctx, code)
		switch {
		case err != nil:
			fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		case verdict.Allowed:
			fmt.Println("ok")
			fmt.Println()
		default:
			fmt.Printf("rejected: %s\n\n", verdict.Reason())
		}
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help        - Show this help")
		fmt.Println("  /session     - Show the current session id")
		fmt.Println("  /new         - Switch to a fresh session")
		fmt.Println("  /files       - List files in the session directory")
		fmt.Println("  /vet <code>  - Check code against the denylist without running it")
		fmt.Println("  /quit        - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false, sessionID
}
