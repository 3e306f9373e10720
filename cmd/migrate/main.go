package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/config"
	"github.com/tendant/course-materials/pkg/materials/migrate"
)

const usage = `Course Materials Legacy Import

Runs one bounded pass importing legacy on-disk files into the content store
and prints the result as JSON. Run it repeatedly (for example from cron)
until it exits 0.

USAGE:
  migrate

ENVIRONMENT VARIABLES:
  LEGACY_ROOT               Directory holding the legacy files (required)
  MIGRATION_TIME_LIMIT      Time limit of one run (default: 30s)
  MIGRATION_SAFETY_MARGIN   Time kept in reserve before the limit (default: 5s)
  DATABASE_URL, DB_SCHEMA, CONTENT_BACKEND and the CONTENT_*/AWS_* keys
  select the store exactly as for the server.

  Configuration can be loaded from a .env file in the current directory.

EXIT CODES:
  0  backlog drained, nothing left over
  3  more items pending, run again
  4  backlog drained but some files were missing or left over
  1  configuration or storage failure
`

// Exit codes reported to the scheduler.
const (
	exitClean             = 0
	exitFailure           = 1
	exitPending           = 3
	exitDrainedWithErrors = 4
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			fmt.Print(usage + "\n")
			os.Exit(0)
		default:
			fmt.Print(usage + "\n")
			os.Exit(exitFailure)
		}
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(exitFailure)
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, os.Stdout, logger)
	stop()
	os.Exit(code)
}

// report is the JSON printed after every run.
type report struct {
	Outcome string `json:"outcome"`
	*migrate.Result
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, logger *slog.Logger) int {
	store, closeStore, err := cfg.Build(ctx, materials.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to build material store", "err", err)
		return exitFailure
	}
	defer closeStore()

	job, err := cfg.NewMigrationJob(store, logger)
	if err != nil {
		logger.Error("Failed to create migration job", "err", err)
		return exitFailure
	}

	result, runErr := job.Run(ctx)
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report{Outcome: result.Outcome().String(), Result: result}); err != nil {
			logger.Error("Failed to write result", "err", err)
		}
	}
	if runErr != nil {
		logger.Error("Migration failed", "err", runErr)
		return exitFailure
	}
	return exitCode(result.Outcome())
}

func exitCode(outcome migrate.Outcome) int {
	switch outcome {
	case migrate.OutcomePending:
		return exitPending
	case migrate.OutcomeDrainedWithErrors:
		return exitDrainedWithErrors
	default:
		return exitClean
	}
}
