package service

import (
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/meta"
)

// Diagnostics is the runtime state of a Service.
type Diagnostics struct {
	Time     time.Time         `json:"time"`
	Version  string            `json:"version"`
	Uptime   time.Duration     `json:"uptime"`
	Healthy  bool              `json:"healthy"`
	Errors   []string          `json:"errors,omitempty"`
	Governor governor.Health   `json:"governor"`
	Tiers    []TierDiagnostics `json:"tiers"`
}

type TierDiagnostics struct {
	cache.Stats

	State    string            `json:"state"`
	Forced   bool              `json:"forced"`
	LastSync *cache.SyncStatus `json:"last_sync,omitempty"`
}

// Diagnostics collects the current diagnostics.
func (s *Service) Diagnostics() Diagnostics {
	now := s.clock.Now()
	healthy, msgs := s.store.Errors()

	d := Diagnostics{
		Time:     now,
		Version:  meta.Version,
		Uptime:   now.Sub(s.started),
		Healthy:  healthy,
		Errors:   msgs,
		Governor: s.governor.Health(),
		Tiers:    make([]TierDiagnostics, 0, len(s.order)),
	}

	statuses, err := s.store.ReadStatus()
	if err != nil {
		s.log.Debugw("failed to read sync status", "error", err)
	}

	for _, t := range s.order {
		st, err := s.store.Stats(t)
		if err != nil {
			continue
		}

		o := s.orchs[t]
		td := TierDiagnostics{
			Stats:  st,
			State:  o.State().String(),
			Forced: o.Forced(),
		}
		if ss, ok := statuses[t]; ok {
			td.LastSync = &ss
		}
		d.Tiers = append(d.Tiers, td)
	}

	return d
}
