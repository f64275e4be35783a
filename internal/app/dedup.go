package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/storymerge/internal/cli"
	"horse.fit/storymerge/internal/dedup"
)

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dryRun := fs.Bool("dry-run", false, "Report what would merge without writing")
	limit := fs.Int("limit", dedup.DefaultBatchLimit, "Number of most recent live stories to scan")
	timeout := fs.Duration("timeout", time.Hour, "Command timeout")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("dedup setup failed")
		fmt.Fprintf(os.Stderr, "Dedup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	startedAt := time.Now()
	report, runErr := rt.engine.RunBatch(ctx, dedup.BatchOptions{Limit: *limit, DryRun: *dryRun})

	logger.Info().
		Bool("dry_run", report.DryRun).
		Int("scanned", report.Scanned).
		Int("merged", report.Merged).
		Dur("elapsed", time.Since(startedAt)).
		Msg("batch dedup finished")

	if format == outputFormatJSON {
		if err := printJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
	} else {
		if len(report.Decisions) > 0 {
			if err := writeTable(decisionHeaders, decisionRows(report.Decisions)); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
				return 1
			}
		}
		fmt.Printf(
			"dedup scanned=%d compared=%d escalated=%d merged=%d rejected=%d dry_run=%t\n",
			report.Scanned,
			report.Compared,
			report.Escalated,
			report.Merged,
			report.Rejected,
			report.DryRun,
		)
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("batch dedup aborted")
		fmt.Fprintf(os.Stderr, "Dedup aborted: %v\n", runErr)
		return 1
	}
	return 0
}
