package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/storymerge/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file").Optional()
	timeout := fs.Duration("timeout", 5*time.Second, "Connectivity check timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if err := rt.pool.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: database ping: %v\n", err)
		return 1
	}

	cacheState := "disabled"
	if cfg.RedisAddr != "" {
		cacheState = "unavailable"
		if rt.verdicts != nil && rt.verdicts.Ping(ctx) == nil {
			cacheState = "ok"
		}
	}
	oracleState := "disabled"
	if rt.oracle != nil {
		oracleState = "configured model=" + rt.oracle.ModelName()
	}

	logger.Info().
		Dur("timeout", *timeout).
		Str("verdict_cache", cacheState).
		Msg("health check passed")
	fmt.Printf("ok: database=ok verdict_cache=%s oracle=%s\n", cacheState, oracleState)
	return 0
}
