package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ashureev/supercoder/internal/config"
	"github.com/ashureev/supercoder/internal/runner"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "supercoder",
		Short: "Generates programs, runs them, and feeds failures back until they pass",
		Long: `Supercoder turns a plain-language program description into working
code: it asks a generation service for a program with its own tests,
executes the result in a sandbox, and loops any failure back to the
service until the code runs cleanly or the attempt budget runs out.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
		},
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newExamplesCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCommand().Execute()
}

// newLogger installs the default slog logger for a command. Interactive
// commands pass a text default so output stays on stderr in the compact
// tint format; serve passes JSON. LOG_FORMAT overrides the format and
// LOG_LEVEL, when set explicitly, overrides the level.
func newLogger(cfg *config.Config, defaultFormat string, defaultLevel slog.Level) *slog.Logger {
	level := defaultLevel
	if _, explicit := os.LookupEnv("LOG_LEVEL"); explicit {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	format := cfg.LogFormat
	if format == "" {
		format = defaultFormat
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildRunner picks the execution strategy from config.
func buildRunner(cfg *config.Config, logger *slog.Logger) (runner.Runner, error) {
	switch cfg.Executor {
	case config.ExecutorDocker:
		return runner.NewDockerRunner(runner.DockerConfig{
			Image:       cfg.ExecImage,
			Interpreter: cfg.InterpreterBin(),
			MemoryMB:    cfg.ExecMemoryMB,
			CPUQuota:    cfg.ExecCPUQuota,
			PidsLimit:   cfg.ExecPidsLimit,
			Timeout:     cfg.ExecTimeout,
		}, logger)
	case config.ExecutorLua:
		return runner.NewLuaRunner(cfg.ExecTimeout, logger), nil
	default:
		return runner.NewSubprocessRunner(cfg.InterpreterBin(), cfg.ExecTimeout, logger), nil
	}
}
