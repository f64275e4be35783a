package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/storymerge/internal/cli"
	"horse.fit/storymerge/internal/dedup"
)

func runStory(args []string) int {
	fs := flag.NewFlagSet("story", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintln(os.Stderr, "usage: storymerge story [flags] <story_id>")
		return 2
	}
	storyID := strings.TrimSpace(fs.Arg(0))

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

	detail, err := pool.GetStoryDetail(ctx, storyID)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "story %s not found\n", storyID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load story: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(detail); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
			return 1
		}
		return 0
	}

	story := detail.Story
	fmt.Printf("story_id=%s\n", story.ID)
	fmt.Printf("headline=%s\n", truncateForTable(story.Headline, 0))
	fmt.Printf("url=%s\n", story.URL)
	fmt.Printf("source_name=%s\n", story.SourceName)
	fmt.Printf("language=%s\n", story.Language)
	fmt.Printf("published_at=%s\n", formatUTCTimestamp(story.PublishedAt))
	fmt.Printf("last_source_at=%s\n", formatUTCTimestamp(story.LastSourceAt))
	fmt.Printf("pe_impact_score=%s base_impact_score=%s\n", formatScore(story.ImpactScore), formatScore(story.BaseImpactScore))
	fmt.Printf("is_duplicate=%t merged_into=%s hidden=%t\n", story.IsDuplicate, story.MergedInto, story.Hidden)

	fmt.Println()
	sourceRows := make([][]string, 0, len(story.Sources))
	for _, source := range story.Sources {
		sourceRows = append(sourceRows, []string{
			formatUTCTimestamp(source.PublishedAt),
			source.Name,
			source.URL,
		})
	}
	if err := writeTable([]string{"PUBLISHED_AT", "SOURCE", "URL"}, sourceRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	if len(detail.Duplicates) > 0 {
		fmt.Println()
		if err := writeTable(storyHeaders, storyRows(detail.Duplicates)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}

	if len(detail.Decisions) > 0 {
		fmt.Println()
		if err := writeTable(decisionHeaders, decisionRows(detail.Decisions)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}
	return 0
}
