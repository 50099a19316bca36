package endpoint

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/macrat/telecache/internal/service"
)

func (h handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	h.handleError("diagnostics", writeJSON(w, http.StatusOK, h.b.Diagnostics()))
}

func (h handler) diagnosticsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	h.handleError("diagnostics.txt", WriteDiagnosticsText(newFlushWriter(w), h.b.Diagnostics()))
}

// WriteDiagnosticsText writes d in a human readable form.
func WriteDiagnosticsText(w io.Writer, d service.Diagnostics) error {
	var sb strings.Builder

	status := "HEALTHY"
	if !d.Healthy {
		status = "FAILURE"
	}
	fmt.Fprintf(&sb, "telecache %s  %s  up %s\n", d.Version, status, roundDuration(d.Uptime))
	for _, e := range d.Errors {
		fmt.Fprintf(&sb, "  ! %s\n", e)
	}

	g := d.Governor
	fmt.Fprintf(&sb, "\ncircuit %s", g.State)
	if g.RetryIn > 0 {
		fmt.Fprintf(&sb, " (retry in %s)", roundDuration(g.RetryIn))
	}
	fmt.Fprintf(&sb, ", %d/%d consecutive failures", g.ConsecutiveFailures, g.MaxFailures)
	if !g.LastRequest.IsZero() {
		fmt.Fprintf(&sb, ", last request %s", humanize.RelTime(g.LastRequest, d.Time, "ago", "from now"))
	}
	sb.WriteString("\n")

	for _, t := range d.Tiers {
		fmt.Fprintf(&sb, "\n[%s] threshold %s, %s\n", t.Tier, roundDuration(t.Threshold), t.State)

		if !t.Initialized {
			sb.WriteString("  no data yet\n")
		} else {
			freshness := "stale"
			if t.Fresh {
				freshness = "fresh"
			}
			fmt.Fprintf(&sb, "  %s records, %s, updated %s\n", humanize.Comma(int64(t.Records)), freshness, humanize.RelTime(t.Timestamp, d.Time, "ago", "from now"))
			fmt.Fprintf(&sb, "  quality %.1f%%, hit rate %.1f%% (%s hits, %s misses), mean latency %s\n",
				t.Quality, t.HitRate*100, humanize.Comma(t.Hits), humanize.Comma(t.Misses), t.MeanLatency)

			domains := make([]string, 0, len(t.Domains))
			for name := range t.Domains {
				domains = append(domains, name)
			}
			sort.Strings(domains)
			for _, name := range domains {
				fmt.Fprintf(&sb, "    %-10s %s\n", name, humanize.Comma(int64(t.Domains[name])))
			}
		}

		if s := t.LastSync; s != nil {
			result := "ok"
			if !s.Success {
				result = "failed: " + s.Error
			}
			fmt.Fprintf(&sb, "  last sync %s %s, %d fetched, %d valid, %d dropped: %s\n",
				s.SyncID, humanize.RelTime(s.StartedAt, d.Time, "ago", "from now"), s.Fetched, s.Valid, s.Dropped, result)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func roundDuration(d time.Duration) time.Duration {
	if d >= time.Minute {
		return d.Round(time.Second)
	}
	return d.Round(time.Millisecond)
}
