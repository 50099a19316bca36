package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/config"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

type StatusCommand struct {
	Streams
	CommonFlags

	JSON bool

	// Now is the reference time of the ages. Zero means the current time.
	Now time.Time
}

func NewStatusCommand(s Streams) *StatusCommand {
	return &StatusCommand{Streams: s}
}

// TierStatus is the state of a tier read from the cache directory.
type TierStatus struct {
	cache.Stats
	LastSync *cache.SyncStatus `json:"last_sync,omitempty"`
}

// Healthy reports whether the tier has data and its last sync did not fail.
func (s TierStatus) Healthy() bool {
	return s.Initialized && (s.LastSync == nil || s.LastSync.Success)
}

func (cmd *StatusCommand) Run(args []string) int {
	flags := cmd.NewFlagSet(args[0])
	flags.BoolVarP(&cmd.JSON, "json", "j", false, "Print JSON")

	if code, done := cmd.Parse(cmd.Streams, args); done {
		return code
	}

	cfg, err := cmd.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 2
	}
	cmd.ConfigureLogger(cfg)

	ts, err := ReadTierStatus(cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}

	if cmd.JSON {
		enc := json.NewEncoder(cmd.OutStream)
		enc.SetIndent("", "  ")
		err = enc.Encode(ts)
	} else {
		err = cmd.render(ts)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrStream, "error: %s\n", err)
		return 1
	}

	for _, t := range ts {
		if !t.Healthy() {
			return 1
		}
	}
	return 0
}

// ReadTierStatus reads the snapshots and the sync status of every enabled tier, without syncing anything.
func ReadTierStatus(cfg config.Config) ([]TierStatus, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	syncs, err := store.ReadStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}

	var ts []TierStatus
	for _, t := range cfg.EnabledTiers() {
		st, err := store.Stats(t)
		if err != nil {
			return nil, err
		}

		s := TierStatus{Stats: st}
		if last, ok := syncs[t]; ok {
			s.LastSync = &last
		}
		ts = append(ts, s)
	}
	return ts, nil
}

func (cmd *StatusCommand) render(ts []TierStatus) error {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	p := newPainter(cmd.OutStream)

	table := tablewriter.NewTable(cmd.OutStream)
	table.Header([]string{"Tier", "Records", "Domains", "Updated", "Fresh", "Quality", "Last sync"})

	for _, t := range ts {
		row := []string{string(t.Tier), "-", "-", p.warn("never"), p.fail("no"), "-", lastSync(p, t.LastSync, now)}

		if t.Initialized {
			fresh := p.ok("yes")
			if !t.Fresh {
				fresh = p.warn("stale")
			}

			row[1] = humanize.Comma(int64(t.Records))
			row[2] = humanize.Comma(int64(len(t.Domains)))
			row[3] = humanize.RelTime(t.Timestamp, now, "ago", "later")
			row[4] = fresh
			row[5] = fmt.Sprintf("%.1f%%", t.Quality)
		}

		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}

func lastSync(p painter, s *cache.SyncStatus, now time.Time) string {
	if s == nil {
		return "-"
	}

	when := humanize.RelTime(s.StartedAt, now, "ago", "later")
	if !s.Success {
		return p.fail("FAILURE %s", when)
	}
	return p.ok("HEALTHY %s", when)
}

// painter colors the status words if the output is a terminal.
type painter struct {
	ok   func(format string, a ...interface{}) string
	warn func(format string, a ...interface{}) string
	fail func(format string, a ...interface{}) string
}

func newPainter(w io.Writer) painter {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	paint := func(attr color.Attribute) func(string, ...interface{}) string {
		c := color.New(attr)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintfFunc()
	}

	return painter{
		ok:   paint(color.FgGreen),
		warn: paint(color.FgYellow),
		fail: paint(color.FgRed),
	}
}
