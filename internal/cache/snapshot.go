package cache

import (
	"sort"
	"time"

	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/validity"
)

// Snapshot is the content of one tier at a point in time.
//
// Snapshots returned by the Store are shared between readers. Do not modify them; use Clone.
type Snapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Domains   map[string][]entity.Record `json:"domains"`
	Metadata  Metadata                   `json:"metadata"`
}

// Metadata is the bookkeeping saved with a snapshot.
type Metadata struct {
	SyncID string `json:"sync_id,omitempty"`

	Fetched  int                     `json:"fetched"`
	Valid    int                     `json:"valid"`
	Dropped  int                     `json:"dropped"`
	Quality  float64                 `json:"quality"`
	Rejected map[validity.Reason]int `json:"rejected,omitempty"`

	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	MeanLatency float64 `json:"mean_latency_ms"`

	Invalidated int `json:"invalidated,omitempty"`
}

// NewSnapshot groups records by domain. The timestamp is set by Store.Commit.
func NewSnapshot(records []entity.Record, summary validity.Summary) *Snapshot {
	return &Snapshot{
		Domains: entity.GroupByDomain(records),
		Metadata: Metadata{
			Fetched:  summary.Total,
			Valid:    summary.Valid,
			Dropped:  summary.Dropped(),
			Quality:  summary.Quality(),
			Rejected: summary.Rejected,
		},
	}
}

// Records returns every record ordered by domain and then by ID.
func (s *Snapshot) Records() []entity.Record {
	domains := s.DomainNames()

	var rs []entity.Record
	for _, d := range domains {
		rs = append(rs, s.Domains[d]...)
	}
	return rs
}

// DomainNames returns the domain names in sorted order.
func (s *Snapshot) DomainNames() []string {
	names := make([]string, 0, len(s.Domains))
	for d := range s.Domains {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of records.
func (s *Snapshot) Count() int {
	n := 0
	for _, rs := range s.Domains {
		n += len(rs)
	}
	return n
}

// DomainCounts returns the number of records per domain.
func (s *Snapshot) DomainCounts() map[string]int {
	counts := make(map[string]int, len(s.Domains))
	for d, rs := range s.Domains {
		counts[d] = len(rs)
	}
	return counts
}

// Find returns the record that has the given ID.
func (s *Snapshot) Find(id string) (entity.Record, bool) {
	for _, rs := range s.Domains {
		for _, r := range rs {
			if r.ID == id {
				return r, true
			}
		}
	}
	return entity.Record{}, false
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s

	c.Domains = make(map[string][]entity.Record, len(s.Domains))
	for d, rs := range s.Domains {
		list := make([]entity.Record, len(rs))
		for i, r := range rs {
			list[i] = r.Clone()
		}
		c.Domains[d] = list
	}

	if s.Metadata.Rejected != nil {
		c.Metadata.Rejected = make(map[validity.Reason]int, len(s.Metadata.Rejected))
		for k, v := range s.Metadata.Rejected {
			c.Metadata.Rejected[k] = v
		}
	}

	return &c
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
