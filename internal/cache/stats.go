package cache

import (
	"time"
)

// latencyWeight is the weight of the newest sample in the moving average of access latency.
const latencyWeight = 0.2

// RecordAccess counts one read of the tier.
// A hit is a read served by a fresh snapshot.
func (s *Store) RecordAccess(name Tier, hit bool, latency time.Duration) {
	t, err := s.tier(name)
	if err != nil {
		return
	}

	t.statsLock.Lock()
	defer t.statsLock.Unlock()

	if hit {
		t.hits++
	} else {
		t.misses++
	}

	if t.hits+t.misses == 1 {
		t.meanLatency = latency
	} else {
		t.meanLatency = time.Duration(latencyWeight*float64(latency) + (1-latencyWeight)*float64(t.meanLatency))
	}
}

// Stats is the runtime statistics of a tier.
type Stats struct {
	Tier        Tier           `json:"tier"`
	Threshold   time.Duration  `json:"threshold"`
	Initialized bool           `json:"initialized"`
	Timestamp   time.Time      `json:"timestamp,omitempty"`
	Age         time.Duration  `json:"age"`
	Fresh       bool           `json:"fresh"`
	Records     int            `json:"records"`
	Domains     map[string]int `json:"domains,omitempty"`
	Quality     float64        `json:"quality"`
	Hits        int64          `json:"hits"`
	Misses      int64          `json:"misses"`
	HitRate     float64        `json:"hit_rate"`
	MeanLatency time.Duration  `json:"mean_latency"`
	ETag        string         `json:"etag,omitempty"`
}

// Stats returns the statistics of a tier. It does not count as an access.
func (s *Store) Stats(name Tier) (Stats, error) {
	t, err := s.tier(name)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Tier:      name,
		Threshold: t.policy.Threshold,
	}

	t.statsLock.Lock()
	st.Hits = t.hits
	st.Misses = t.misses
	st.MeanLatency = t.meanLatency
	t.statsLock.Unlock()

	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}

	if snap, fresh, err := s.Get(name, false); err == nil {
		now := s.clock.Now()
		st.Initialized = true
		st.Timestamp = snap.Timestamp
		st.Age = snap.Age(now)
		st.Fresh = fresh
		st.Records = snap.Count()
		st.Domains = snap.DomainCounts()
		st.Quality = snap.Metadata.Quality
		st.ETag = s.ETag(name)
	}

	return st, nil
}
