package cache_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/macrat/telecache/internal/validity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, dir string) (*cache.Store, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(epoch)
	s, err := cache.New(dir, nil, cache.WithClock(c))
	require.NoError(t, err)
	return s, c
}

func snapshotOf(ids ...string) *cache.Snapshot {
	rs := make([]entity.Record, len(ids))
	for i, id := range ids {
		rs[i] = entity.Record{
			ID:      id,
			Name:    "entity " + id,
			Domain:  "APM",
			Windows: map[string]entity.Measurements{"last 30 minutes": {"availability": 99.0}},
		}
	}
	return cache.NewSnapshot(rs, validity.Summary{Total: len(ids), Valid: len(ids)})
}

func TestStore_commitThenGet(t *testing.T) {
	s, c := newStore(t, t.TempDir())

	require.True(t, s.Commit(cache.Fast, snapshotOf("a", "b")))

	snap, fresh, err := s.Get(cache.Fast, false)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 2, snap.Count())
	assert.True(t, snap.Timestamp.Equal(epoch))

	_, fresh, err = s.Get(cache.Fast, true)
	require.NoError(t, err)
	assert.False(t, fresh, "forced refresh must report not fresh")

	c.Advance(30 * time.Second)

	stale, fresh, err := s.Get(cache.Fast, false)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Same(t, snap, stale, "stale snapshot must still be served")
}

func TestStore_uninitialized(t *testing.T) {
	s, _ := newStore(t, t.TempDir())

	_, _, err := s.Get(cache.Standard, false)
	assert.ErrorIs(t, err, syncerr.ErrUninitialized)

	_, _, err = s.Get("nope", false)
	assert.ErrorIs(t, err, cache.ErrUnknownTier)
}

func TestStore_lazyLoad(t *testing.T) {
	dir := t.TempDir()

	s1, _ := newStore(t, dir)
	require.True(t, s1.Commit(cache.Standard, snapshotOf("a", "b", "c")))

	_, err := os.Stat(filepath.Join(dir, "cache_standard.json"))
	require.NoError(t, err)

	s2, _ := newStore(t, dir)
	snap, fresh, err := s2.Get(cache.Standard, false)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 3, snap.Count())
	assert.True(t, snap.Timestamp.Equal(epoch))
	assert.Equal(t, s1.ETag(cache.Standard), s2.ETag(cache.Standard))
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir)

	_, err := s.Load(cache.Fast)
	assert.ErrorIs(t, err, syncerr.ErrEmpty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache_fast.json"), []byte("{broken"), 0o644))
	_, err = s.Load(cache.Fast)
	assert.ErrorIs(t, err, syncerr.ErrEmpty)

	_, _, err = s.Get(cache.Fast, false)
	assert.ErrorIs(t, err, syncerr.ErrUninitialized)
}

func TestStore_backup(t *testing.T) {
	dir := t.TempDir()
	s, c := newStore(t, dir)

	require.True(t, s.Commit(cache.Long, snapshotOf("old")))
	c.Advance(time.Minute)
	require.True(t, s.Commit(cache.Long, snapshotOf("new1", "new2")))

	_, err := os.Stat(filepath.Join(dir, "cache_long.json.bak.zst"))
	require.NoError(t, err)

	snap, err := s.LoadBackup(cache.Long)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	assert.True(t, snap.Timestamp.Equal(epoch))

	cur, _, err := s.Get(cache.Long, false)
	require.NoError(t, err)
	assert.Same(t, snap, cur)
}

func TestStore_commitFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir)

	require.True(t, s.Commit(cache.Fast, snapshotOf("a")))

	path := filepath.Join(dir, "cache_fast.json")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	assert.False(t, s.Commit(cache.Fast, snapshotOf("b", "c")))

	snap, _, err := s.Get(cache.Fast, false)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	_, ok := snap.Find("a")
	assert.True(t, ok)

	healthy, messages := s.Errors()
	assert.False(t, healthy)
	assert.Len(t, messages, 1)
}

func TestStore_Replace(t *testing.T) {
	s, c := newStore(t, "")

	require.True(t, s.Commit(cache.Fast, snapshotOf("a")))
	etag := s.ETag(cache.Fast)

	c.Advance(10 * time.Second)
	require.True(t, s.Replace(cache.Fast, snapshotOf("a", "b")))

	snap, _, err := s.Get(cache.Fast, false)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count())
	assert.True(t, snap.Timestamp.IsZero(), "replace must not stamp the snapshot")
	assert.NotEqual(t, etag, s.ETag(cache.Fast))
}

func TestStore_CompareAndReplace(t *testing.T) {
	s, c := newStore(t, t.TempDir())

	require.True(t, s.Commit(cache.Standard, snapshotOf("a")))
	seen, _, err := s.Get(cache.Standard, false)
	require.NoError(t, err)

	stored, err := s.CompareAndReplace(cache.Standard, seen, snapshotOf("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Count())

	cur, _, err := s.Get(cache.Standard, false)
	require.NoError(t, err)
	assert.Same(t, stored, cur)

	c.Advance(time.Minute)
	require.True(t, s.Commit(cache.Standard, snapshotOf("x", "y", "z")))

	_, err = s.CompareAndReplace(cache.Standard, stored, snapshotOf("a"))
	assert.ErrorIs(t, err, cache.ErrConflict)

	cur, _, err = s.Get(cache.Standard, false)
	require.NoError(t, err)
	assert.Equal(t, 3, cur.Count(), "a conflicting replace must not touch the newer commit")
	assert.True(t, cur.Timestamp.Equal(epoch.Add(time.Minute)))

	_, err = s.CompareAndReplace(cache.Long, nil, snapshotOf("a"))
	assert.ErrorIs(t, err, cache.ErrConflict, "an uninitialized tier has nothing to compare with")
}

func TestStore_RecordAccess(t *testing.T) {
	s, _ := newStore(t, "")
	require.True(t, s.Commit(cache.Standard, snapshotOf("a", "b")))

	s.RecordAccess(cache.Standard, true, 10*time.Millisecond)
	s.RecordAccess(cache.Standard, false, 20*time.Millisecond)
	s.RecordAccess(cache.Standard, true, 12*time.Millisecond)

	st, err := s.Stats(cache.Standard)
	require.NoError(t, err)

	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 2.0/3.0, st.HitRate, 1e-9)
	// 10ms, then 0.2*20+0.8*10 = 12ms, then 0.2*12+0.8*12 = 12ms.
	assert.InDelta(t, float64(12*time.Millisecond), float64(st.MeanLatency), float64(time.Microsecond))
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, map[string]int{"APM": 2}, st.Domains)
	assert.True(t, st.Initialized)
}

func TestStore_status(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir)

	require.True(t, s.WriteStatus(cache.SyncStatus{Tier: cache.Fast, SyncID: "1", Success: true, Valid: 3}))
	require.True(t, s.WriteStatus(cache.SyncStatus{Tier: cache.Long, SyncID: "2", Error: "rate limited"}))

	other, _ := newStore(t, dir)
	require.True(t, other.WriteStatus(cache.SyncStatus{Tier: cache.Fast, SyncID: "3", Success: true}))

	got, err := s.ReadStatus()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[cache.Fast].SyncID)
	assert.Equal(t, "rate limited", got[cache.Long].Error)
}

func TestStore_concurrentReaders(t *testing.T) {
	s, _ := newStore(t, "")
	require.True(t, s.Commit(cache.Fast, snapshotOf("a")))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, _, err := s.Get(cache.Fast, false)
				if err != nil {
					t.Errorf("unexpected error: %s", err)
					return
				}
				if snap.Count() != snap.Metadata.Valid {
					t.Errorf("observed a half-written snapshot: %d records but metadata says %d", snap.Count(), snap.Metadata.Valid)
					return
				}
			}
		}()
	}

	ids := []string{}
	for i := 0; i < 50; i++ {
		ids = append(ids, string(rune('a'+i%26))+string(rune('a'+i/26)))
		s.Commit(cache.Fast, snapshotOf(ids...))
	}

	close(stop)
	wg.Wait()
}
