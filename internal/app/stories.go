package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/storymerge/internal/cli"
	"horse.fit/storymerge/internal/db"
	"horse.fit/storymerge/internal/dedup"
)

func runStories(args []string) int {
	fs := flag.NewFlagSet("stories", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 25, "Maximum rows")
	offset := fs.Int("offset", 0, "Rows to skip")
	includeHidden := fs.Bool("include-hidden", false, "Include stories hidden by a merge")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit <= 0 || *limit > 1000 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 1000")
		return 2
	}
	if *offset < 0 {
		fmt.Fprintln(os.Stderr, "--offset must be >= 0")
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

	stories, err := pool.ListLiveStories(ctx, db.StoryListOptions{
		Limit:         *limit,
		Offset:        *offset,
		IncludeHidden: *includeHidden,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list stories: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(stories); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable(storyHeaders, storyRows(stories)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}

var storyHeaders = []string{"STORY_ID", "PUBLISHED_AT", "LAST_SOURCE_AT", "SOURCES", "SCORE", "LANG", "HEADLINE"}

func storyRows(stories []dedup.Story) [][]string {
	rows := make([][]string, 0, len(stories))
	for _, story := range stories {
		rows = append(rows, []string{
			story.ID,
			formatUTCTimestamp(story.PublishedAt),
			formatUTCTimestamp(story.LastSourceAt),
			strconv.Itoa(len(story.Sources)),
			formatScore(story.ImpactScore),
			story.Language,
			truncateForTable(story.Headline, 80),
		})
	}
	return rows
}
