package main

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/config"
)

type SyncCommand struct {
	Streams
	CommonFlags

	Tiers []string
}

func NewSyncCommand(s Streams) *SyncCommand {
	return &SyncCommand{Streams: s}
}

func (cmd *SyncCommand) Run(args []string) int {
	flags := cmd.NewFlagSet(args[0])
	flags.StringArrayVarP(&cmd.Tiers, "tier", "t", nil, "Refresh only this tier")

	if code, done := cmd.Parse(cmd.Streams, args); done {
		return code
	}

	cfg, err := cmd.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	return cmd.Sync(ctx, cfg)
}

// Sync refreshes the selected tiers once and prints a line for each of them.
// It returns 1 if any of them failed.
func (cmd *SyncCommand) Sync(ctx context.Context, cfg config.Config) (exitCode int) {
	cmd.ConfigureLogger(cfg)

	enabled := cfg.EnabledTiers()
	for _, t := range cmd.Tiers {
		if !slices.Contains(enabled, cache.Tier(t)) {
			fmt.Fprintf(cmd.ErrStream, "error: tier %q is not enabled\n", t)
			return 2
		}
	}

	stack, err := Build(cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}
	defer stack.Close()

	for _, t := range stack.Tiers() {
		if len(cmd.Tiers) > 0 && !slices.Contains(cmd.Tiers, string(t)) {
			continue
		}

		o, err := stack.Orchestrator(t)
		if err != nil {
			fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
			return 1
		}

		if err := o.Refresh(ctx); err != nil {
			fmt.Fprintf(cmd.OutStream, "%s: FAILURE: %s\n", t, err)
			exitCode = 1
			continue
		}

		snap, _, err := stack.Get(t, false)
		if err != nil {
			fmt.Fprintf(cmd.OutStream, "%s: FAILURE: %s\n", t, err)
			exitCode = 1
			continue
		}
		fmt.Fprintf(cmd.OutStream, "%s: HEALTHY: %s records in %d domains (%.1f%% valid)\n", t, humanize.Comma(int64(snap.Count())), len(snap.Domains), snap.Metadata.Quality)

		if ctx.Err() != nil {
			return 1
		}
	}

	if healthy, messages := stack.Errors(); !healthy {
		for _, m := range messages {
			fmt.Fprintf(cmd.ErrStream, "error: %s\n", m)
		}
		return 1
	}

	return exitCode
}
