package testutil

import (
	"testing"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/validity"
)

// Epoch is the start time of the fake clocks in tests.
var Epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// NewStore creates a cache.Store in a temporary directory, driven by a fake clock.
func NewStore(t testing.TB) (*cache.Store, *clock.FakeClock) {
	t.Helper()
	return NewStoreIn(t, t.TempDir())
}

// NewStoreIn is NewStore with an explicit directory. An empty dir means in-memory.
func NewStoreIn(t testing.TB, dir string) (*cache.Store, *clock.FakeClock) {
	t.Helper()

	c := clock.Fake(Epoch)
	s, err := cache.New(dir, nil, cache.WithClock(c))
	if err != nil {
		t.Fatalf("failed to create store: %s", err)
	}
	return s, c
}

// Record makes a valid record with an availability measurement.
func Record(id, domain string) entity.Record {
	return entity.Record{
		ID:        id,
		Name:      "entity " + id,
		Domain:    domain,
		Reporting: true,
		Windows: map[string]entity.Measurements{
			"last 30 minutes": {"availability": 99.9, "response_time": 120.0},
		},
	}
}

// Records makes n valid records with IDs like APM-aa, APM-ab, and so on.
func Records(domain string, n int) []entity.Record {
	rs := make([]entity.Record, n)
	for i := range rs {
		rs[i] = Record(domain+"-"+string(rune('a'+i/26))+string(rune('a'+i%26)), domain)
	}
	return rs
}

// Commit commits the records to the tier and fails the test if it could not.
func Commit(t testing.TB, s *cache.Store, tier cache.Tier, rs ...entity.Record) *cache.Snapshot {
	t.Helper()

	if !s.Commit(tier, cache.NewSnapshot(rs, validity.Summary{Total: len(rs), Valid: len(rs)})) {
		t.Fatalf("failed to commit snapshot")
	}

	snap, _, err := s.Get(tier, false)
	if err != nil {
		t.Fatalf("failed to get committed snapshot: %s", err)
	}
	return snap
}
