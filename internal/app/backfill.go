package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/storymerge/internal/cli"
	"horse.fit/storymerge/internal/config"
	"horse.fit/storymerge/internal/db"
)

func runBackfill(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dryRun := fs.Bool("dry-run", false, "Count stale rows without updating them")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	result, err := pool.BackfillLastSourceAt(ctx, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backfill failed after scanned=%d updated=%d: %v\n", result.Scanned, result.Updated, err)
		return 1
	}

	fmt.Printf("backfill scanned=%d updated=%d dry_run=%t\n", result.Scanned, result.Updated, *dryRun)
	return 0
}
