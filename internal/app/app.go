package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "backfill":
		return runBackfill(args[1:])
	case "stories":
		return runStories(args[1:])
	case "story":
		return runStory(args[1:])
	case "stats":
		return runStats(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "storymerge CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  storymerge <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database, cache and oracle configuration")
	fmt.Fprintln(os.Stderr, "  validate  Validate feed item files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest    Place feed items into the story corpus")
	fmt.Fprintln(os.Stderr, "  dedup     Retroactively merge duplicate stories (--dry-run to preview)")
	fmt.Fprintln(os.Stderr, "  backfill  Recompute last_source_at from recorded sources")
	fmt.Fprintln(os.Stderr, "  stories   List live stories")
	fmt.Fprintln(os.Stderr, "  story     Show one story with its duplicates and decisions")
	fmt.Fprintln(os.Stderr, "  stats     Show corpus totals and daily throughput")
	fmt.Fprintln(os.Stderr, "  serve     Start the HTTP API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"storymerge <command> -h\" for command-specific flags.")
}
