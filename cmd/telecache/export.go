package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/export"
	"github.com/mattn/go-isatty"
)

type ExportCommand struct {
	Streams
	CommonFlags

	Tier       string
	OutputPath string
}

func NewExportCommand(s Streams) *ExportCommand {
	return &ExportCommand{Streams: s}
}

func (cmd *ExportCommand) Run(args []string) int {
	flags := cmd.NewFlagSet(args[0])
	flags.StringVarP(&cmd.Tier, "tier", "t", "", "Tier to export")
	flags.StringVarP(&cmd.OutputPath, "output", "o", "", "Output file")

	if code, done := cmd.Parse(cmd.Streams, args); done {
		return code
	}

	cfg, err := cmd.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 2
	}
	cmd.ConfigureLogger(cfg)

	enabled := cfg.EnabledTiers()
	tier := enabled[0]
	if cmd.Tier != "" {
		tier = cache.Tier(cmd.Tier)
		if !slices.Contains(enabled, tier) {
			fmt.Fprintf(cmd.ErrStream, "error: tier %q is not enabled\n", cmd.Tier)
			return 2
		}
	}

	output := cmd.OutStream
	if cmd.OutputPath != "" && cmd.OutputPath != "-" {
		f, err := os.Create(cmd.OutputPath)
		if err != nil {
			fmt.Fprintf(cmd.ErrStream, "error: failed to open output file: %s\n", err)
			return 1
		}
		defer f.Close()
		output = f
	} else if f, ok := output.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		fmt.Fprintln(cmd.ErrStream, "error: can not write xlsx format to terminal. please redirect or use -o option.")
		return 2
	}

	store, err := OpenStore(cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}

	snap, _, err := store.Get(tier, false)
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}

	if err := export.ToXlsx(output, snap, time.Now()); err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: failed to write xlsx: %s\n", err)
		return 1
	}
	return 0
}
