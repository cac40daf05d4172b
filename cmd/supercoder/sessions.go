package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/supercoder/internal/artifact"
	"github.com/ashureev/supercoder/internal/config"
	"github.com/ashureev/supercoder/internal/store"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsShowCommand())
	cmd.AddCommand(newSessionsDeleteCommand())
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			newLogger(cfg, "text", slog.LevelWarn)

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			sessions, err := repo.ListSessions(cmd.Context(), "", limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			for _, s := range sessions {
				status := string(s.Outcome)
				if status == "" {
					status = string(s.State)
				}
				fmt.Printf("%s  %-17s %d/%d  %s\n",
					s.ID, status, s.AttemptsUsed(), s.MaxAttempts,
					truncate(s.Description, 60))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum sessions to list")
	return cmd
}

func newSessionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			newLogger(cfg, "text", slog.LevelWarn)

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			s, err := repo.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("session %s not found", args[0])
			}

			fmt.Printf("Session %s\n", s.ID)
			fmt.Printf("Description: %s\n", s.Description)
			fmt.Printf("Language: %s  Executor: %s\n", s.Language, s.Executor)
			fmt.Printf("State: %s", s.State)
			if s.Outcome != "" {
				fmt.Printf("  Outcome: %s", s.Outcome)
			}
			if s.FailureClass != "" {
				fmt.Printf("  Failure: %s", s.FailureClass)
			}
			fmt.Println()
			fmt.Printf("Attempts: %d/%d\n", s.AttemptsUsed(), s.MaxAttempts)

			for _, a := range s.History {
				status := "failed"
				if a.ExecutionSucceeded {
					status = "ok"
				}
				fmt.Printf("  %d. %-6s %-8s %s\n", a.Index, status,
					a.Duration.Round(time.Millisecond), firstLine(a.DiagnosticText))
			}

			if showCode, _ := cmd.Flags().GetBool("code"); showCode && s.FinalCode != "" {
				fmt.Println()
				fmt.Println(s.FinalCode)
			}
			return nil
		},
	}
	cmd.Flags().Bool("code", false, "Print the final code")
	return cmd
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, "text", slog.LevelWarn)

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			id := args[0]
			if err := repo.DeleteSession(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			if err := artifact.CleanupDir(filepath.Join(cfg.ArtifactDir, id)); err != nil {
				logger.Warn("Failed to remove session artifacts", "session_id", id, "error", err)
			}

			fmt.Printf("Deleted session %s\n", id)
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
