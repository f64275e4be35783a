package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"horse.fit/storymerge/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dayRaw := fs.String("day", defaultUTCDayString(), "UTC day for throughput (YYYY-MM-DD)")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	day, err := parseUTCDate(*dayRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --day: %v\n", err)
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	dayStart, dayEnd := utcDayBounds(day)
	stats, err := pool.QueryCorpusStats(ctx, dayStart, dayEnd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query stats: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"stories", strconv.FormatInt(stats.Totals.Stories, 10)},
		{"live_stories", strconv.FormatInt(stats.Totals.LiveStories, 10)},
		{"duplicates", strconv.FormatInt(stats.Totals.Duplicates, 10)},
		{"multi_source", strconv.FormatInt(stats.Totals.MultiSource, 10)},
		{"decisions", strconv.FormatInt(stats.Totals.Decisions, 10)},
		{"stories_ingested_today", strconv.FormatInt(stats.Throughput.StoriesIngestedToday, 10)},
		{"sources_folded_today", strconv.FormatInt(stats.Throughput.SourcesFoldedToday, 10)},
		{"merged_today", strconv.FormatInt(stats.Throughput.MergedToday, 10)},
	}

	kinds := make([]string, 0, len(stats.Decisions))
	for kind := range stats.Decisions {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		rows = append(rows, []string{"decisions_today." + kind, strconv.FormatInt(stats.Decisions[kind], 10)})
	}

	fmt.Printf("day=%s\n", stats.Day)
	if err := writeTable([]string{"METRIC", "VALUE"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
