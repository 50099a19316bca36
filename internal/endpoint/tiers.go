package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/export"
	"github.com/macrat/telecache/internal/mcp"
	"github.com/macrat/telecache/internal/syncerr"
)

type tierInfo struct {
	Tier        cache.Tier    `json:"tier"`
	Threshold   time.Duration `json:"threshold"`
	Initialized bool          `json:"initialized"`
	Timestamp   *time.Time    `json:"timestamp"`
	AgeSeconds  float64       `json:"age_seconds"`
	Fresh       bool          `json:"fresh"`
	Records     int           `json:"records"`
	State       string        `json:"state"`
}

func (h handler) listTiers(w http.ResponseWriter, r *http.Request) {
	d := h.b.Diagnostics()

	tiers := make([]tierInfo, 0, len(d.Tiers))
	for _, t := range d.Tiers {
		info := tierInfo{
			Tier:        t.Tier,
			Threshold:   t.Threshold,
			Initialized: t.Initialized,
			Fresh:       t.Fresh,
			Records:     t.Records,
			State:       t.State,
		}
		if t.Initialized {
			ts := t.Timestamp
			info.Timestamp = &ts
			info.AgeSeconds = t.Age.Seconds()
		}
		tiers = append(tiers, info)
	}

	h.handleError("tiers", writeJSON(w, http.StatusOK, tiers))
}

// tierParam returns the tier of the URL, or writes 404 and returns false.
func (h handler) tierParam(w http.ResponseWriter, r *http.Request) (cache.Tier, bool) {
	name := cache.Tier(chi.URLParam(r, "tier"))
	for _, t := range h.b.Tiers() {
		if t == name {
			return t, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown_tier", string(name))
	return "", false
}

// snapshot reads the snapshot of the URL's tier. It writes the error response and returns nil on failure.
func (h handler) snapshot(w http.ResponseWriter, r *http.Request) (snap *cache.Snapshot, fresh bool, etag string) {
	tier, ok := h.tierParam(w, r)
	if !ok {
		return nil, false, ""
	}

	snap, fresh, etag, err := h.b.Snapshot(tier)
	if errors.Is(err, syncerr.ErrUninitialized) {
		writeError(w, http.StatusServiceUnavailable, "uninitialized", fmt.Sprintf("tier %s has no data yet", tier))
		return nil, false, ""
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return nil, false, ""
	}

	return snap, fresh, etag
}

func (h handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, fresh, etag := h.snapshot(w, r)
	if snap == nil {
		return
	}

	w.Header().Set("X-Cache-Fresh", strconv.FormatBool(fresh))
	w.Header().Set("Last-Modified", snap.Timestamp.UTC().Format(http.TimeFormat))
	if etag != "" {
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")

	h.handleError("snapshot", writeJSON(w, http.StatusOK, snap))
}

func (h handler) getEntities(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.tierParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	out, err := mcp.FetchEntitiesByJQ(r.Context(), h.b, mcp.EntitiesInput{
		Tier:   string(tier),
		Domain: q.Get("domain"),
		JQ:     q.Get("jq"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "query_failed", err.Error())
		return
	}

	w.Header().Set("X-Cache-Fresh", strconv.FormatBool(out.Fresh))
	h.handleError("entities", writeJSON(w, http.StatusOK, out))
}

func (h handler) exportXlsx(w http.ResponseWriter, r *http.Request) {
	snap, fresh, _ := h.snapshot(w, r)
	if snap == nil {
		return
	}

	tier := chi.URLParam(r, "tier")

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="telecache_%s_%s.xlsx"`, tier, snap.Timestamp.UTC().Format("20060102T150405Z")))
	w.Header().Set("X-Cache-Fresh", strconv.FormatBool(fresh))

	h.handleError("export.xlsx", export.ToXlsx(newFlushWriter(w), snap, time.Now()))
}

type refreshResponse struct {
	Tier   cache.Tier `json:"tier"`
	Status string     `json:"status"`
}

func (h handler) refresh(w http.ResponseWriter, r *http.Request) {
	tier, ok := h.tierParam(w, r)
	if !ok {
		return
	}

	if err := h.b.Trigger(tier); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	h.log.Infow("refresh requested over HTTP", "tier", tier, "remote", r.RemoteAddr)
	h.handleError("refresh", writeJSON(w, http.StatusAccepted, refreshResponse{Tier: tier, Status: "accepted"}))
}
