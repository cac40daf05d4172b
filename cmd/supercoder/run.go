package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashureev/supercoder/internal/artifact"
	"github.com/ashureev/supercoder/internal/config"
	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/engine"
	"github.com/ashureev/supercoder/internal/examples"
	"github.com/ashureev/supercoder/internal/llm"
	"github.com/ashureev/supercoder/internal/prompt"
	"github.com/ashureev/supercoder/internal/store"
	"github.com/ashureev/supercoder/internal/transcript"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [description]",
		Short: "Generate and run a program in one interactive session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// The colored feed is the interface; slog stays quiet on
			// stderr unless LOG_LEVEL says otherwise.
			logger := newLogger(cfg, "text", slog.LevelWarn)

			if v, _ := cmd.Flags().GetInt("attempts"); v > 0 {
				cfg.MaxAttempts = v
			}
			if v, _ := cmd.Flags().GetBool("open"); v {
				cfg.OpenOnSuccess = true
			}
			if v, _ := cmd.Flags().GetString("executor"); v != "" {
				cfg.Executor = strings.ToLower(v)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			description := ""
			if len(args) == 1 {
				description = strings.TrimSpace(args[0])
			}
			if description == "" {
				description, err = promptDescription(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			gen, err := llm.NewOpenAIClient(llm.Config{
				APIKey:         cfg.OpenAIKey,
				BaseURL:        cfg.OpenAIBaseURL,
				Model:          cfg.Model,
				Temperature:    cfg.Temperature,
				RequestTimeout: cfg.GenTimeout,
			}, logger)
			if err != nil {
				var cerr *domain.ClassifiedError
				if errors.As(err, &cerr) && cerr.Fatal {
					fmt.Fprintln(os.Stderr, errorStyle.Render(cerr.Remediation))
				}
				return err
			}

			run, err := buildRunner(cfg, logger)
			if err != nil {
				return err
			}

			art := artifact.NewManager(
				filepath.Join(cfg.ArtifactDir, cfg.ArtifactName),
				cfg.FormatCmd, cfg.OpenOnSuccess, logger)

			opts := engine.Options{Sink: newConsoleSink(), Logger: logger}

			repo, err := store.NewSQLite(cfg.DBPath)
			if err != nil {
				logger.Warn("Session history disabled", "error", err)
			} else {
				defer repo.Close()
				opts.Saver = repo
			}

			if cfg.Transcript.Enabled {
				transcriptLog, err := transcript.NewLogger(transcript.Config{
					Enabled:    true,
					Dir:        cfg.Transcript.Dir,
					GlobalFile: cfg.Transcript.GlobalPath,
					QueueSize:  cfg.Transcript.QueueSize,
				}, logger)
				if err != nil {
					return err
				}
				defer transcriptLog.Close()
				opts.Transcript = transcriptLog
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := domain.NewSession(uuid.NewString(), domain.LocalUserID, description,
				cfg.TargetLanguage, cfg.Executor, cfg.MaxAttempts)
			eng := engine.New(gen, run, art, prompt.NewComposer(s.Language), opts)

			if err := eng.Run(ctx, s); err != nil {
				return err
			}

			fmt.Printf("Saved to %s\n", art.Path())
			return nil
		},
	}

	cmd.Flags().IntP("attempts", "a", 0, "Override the attempt budget")
	cmd.Flags().Bool("open", false, "Open the saved program on success")
	cmd.Flags().String("executor", "", "Execution strategy (subprocess, docker, lua)")
	return cmd
}

// promptDescription asks for a program description and falls back to a
// random example when the user just presses Enter.
func promptDescription(in io.Reader) (string, error) {
	fmt.Print("Tell me what program you want. Press Enter for a random one: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line != "" {
		return line, nil
	}
	p := examples.Random()
	fmt.Println(faintStyle.Render("Picked for you: " + p.Title))
	return p.Description, nil
}
