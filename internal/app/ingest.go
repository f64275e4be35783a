package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"horse.fit/storymerge/internal/cli"
	payloadschema "horse.fit/storymerge/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "Feed item file (.json or .jsonl); - reads stdin")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := strings.TrimSpace(*file)
	if path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	items, problems, err := readIngestInput(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	for _, problem := range problems {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, problem)
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
		logger.Error().Err(err).Msg("ingest setup failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	result, err := rt.ingester.IngestBatch(ctx, items)
	result.Items += len(problems)
	result.Invalid += len(problems)

	if format == outputFormatJSON {
		if printErr := printJSON(result); printErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", printErr)
			return 1
		}
	} else {
		for _, outcome := range result.Outcomes {
			if outcome.Error != "" {
				fmt.Fprintf(os.Stderr, "%s item=%d url=%s: %s\n", strings.ToUpper(outcome.Result), outcome.Index, outcome.URL, outcome.Error)
			}
		}
		fmt.Printf(
			"ingest items=%d inserted=%d folded=%d already_present=%d invalid=%d failed=%d\n",
			result.Items,
			result.Inserted,
			result.Folded,
			result.AlreadyPresent,
			result.Invalid,
			result.Failed,
		)
	}

	if err != nil {
		logger.Error().Err(err).Msg("ingest aborted")
		fmt.Fprintf(os.Stderr, "Ingest aborted: %v\n", err)
		return 1
	}
	if result.Failed > 0 || result.Invalid > 0 {
		return 1
	}
	return 0
}

func readIngestInput(path string) ([]*payloadschema.FeedItem, []error, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		reader = f
	}
	return payloadschema.ReadFeedItems(reader)
}
