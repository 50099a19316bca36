// Package entity defines the telemetry record shape shared by every component.
package entity

import (
	"sort"
	"time"
)

// Measurements maps a measurement name such as "availability" or "response_time" to its value.
//
// A value is a float64, a short structured list ([]any), or nil when the upstream reported nothing.
type Measurements map[string]any

// Record is one monitored entity as fetched from the telemetry API.
type Record struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Domain    string                  `json:"domain"`
	Reporting bool                    `json:"reporting"`
	Status    string                  `json:"status,omitempty"`
	Windows   map[string]Measurements `json:"windows"`
	AlertIDs  []string                `json:"alert_ids,omitempty"`

	FetchedAt  time.Time `json:"fetched_at,omitempty"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
	Stale      bool      `json:"stale,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r

	if r.Windows != nil {
		c.Windows = make(map[string]Measurements, len(r.Windows))
		for label, ms := range r.Windows {
			c.Windows[label] = ms.Clone()
		}
	}

	if r.AlertIDs != nil {
		c.AlertIDs = append([]string(nil), r.AlertIDs...)
	}

	return c
}

// HasAlert reports whether alertID is related to this record.
func (r Record) HasAlert(alertID string) bool {
	for _, id := range r.AlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}

// WindowLabels returns the window labels in sorted order.
func (r Record) WindowLabels() []string {
	labels := make([]string, 0, len(r.Windows))
	for l := range r.Windows {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Clone returns a deep copy of the measurements.
// A nil map stays nil.
func (ms Measurements) Clone() Measurements {
	if ms == nil {
		return nil
	}

	c := make(Measurements, len(ms))
	for k, v := range ms {
		c[k] = cloneValue(v)
	}
	return c
}

// Number returns the measurement as float64 if it is a number.
func (ms Measurements) Number(name string) (float64, bool) {
	switch v := ms[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		c := make([]any, len(x))
		for i := range x {
			c[i] = cloneValue(x[i])
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(x))
		for k, e := range x {
			c[k] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}

// SortByID sorts records by ID in place.
func SortByID(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].ID < rs[j].ID
	})
}

// GroupByDomain groups records by their Domain. Each group is sorted by ID.
func GroupByDomain(rs []Record) map[string][]Record {
	ds := make(map[string][]Record)
	for _, r := range rs {
		ds[r.Domain] = append(ds[r.Domain], r)
	}
	for _, list := range ds {
		SortByID(list)
	}
	return ds
}
