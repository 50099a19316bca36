// Package cache implements the tiered snapshot store of telecache.
//
// Each tier holds exactly one current snapshot in memory, replaced wholesale on commit,
// and mirrors it to a JSON file on disk.
// Readers never touch the disk after the first load, and never observe a half-written snapshot.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/syncerr"
	"go.uber.org/zap"
)

const maxErrors = 10

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the time source used for commit timestamps and freshness.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}

type entry struct {
	snap *Snapshot
	etag string
}

type tier struct {
	policy TierPolicy

	current  atomic.Pointer[entry]
	loadOnce sync.Once

	// writeLock serializes persist-then-swap. Readers never take it.
	writeLock sync.Mutex

	statsLock   sync.Mutex
	hits        int64
	misses      int64
	meanLatency time.Duration
}

// Store is the tiered cache.
type Store struct {
	dir   string
	clock clock.Clock
	log   *zap.SugaredLogger

	tiers map[Tier]*tier
	order []Tier

	statusLock sync.Mutex
	status     map[Tier]SyncStatus

	errorsLock sync.RWMutex
	errors     []string
	healthy    bool
}

// New creates a Store that saves files under dir.
// An empty dir means an in-memory store.
func New(dir string, policies []TierPolicy, opts ...Option) (*Store, error) {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}

	s := &Store{
		dir:     dir,
		clock:   clock.Real(),
		log:     logger.Nop(),
		tiers:   make(map[Tier]*tier, len(policies)),
		status:  make(map[Tier]SyncStatus),
		healthy: true,
	}
	for _, o := range opts {
		o(s)
	}

	for _, p := range policies {
		if _, dup := s.tiers[p.Name]; dup {
			return nil, fmt.Errorf("duplicated tier: %s", p.Name)
		}
		if p.Threshold <= 0 {
			return nil, fmt.Errorf("tier %s: threshold must be positive", p.Name)
		}
		if p.Path == "" {
			p.Path = "cache_" + string(p.Name) + ".json"
		}
		s.tiers[p.Name] = &tier{policy: p}
		s.order = append(s.order, p.Name)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return s, nil
}

// Dir returns the directory of the cache files.
func (s *Store) Dir() string {
	return s.dir
}

// Tiers returns the tier names in configured order.
func (s *Store) Tiers() []Tier {
	return append([]Tier(nil), s.order...)
}

// Policy returns the policy of a tier.
func (s *Store) Policy(name Tier) (TierPolicy, error) {
	t, err := s.tier(name)
	if err != nil {
		return TierPolicy{}, err
	}
	return t.policy, nil
}

func (s *Store) tier(name Tier) (*tier, error) {
	t, ok := s.tiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return t, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Load reads the tier file into memory and returns it.
//
// A missing or unreadable file returns an error wrapping syncerr.ErrEmpty and leaves memory untouched.
func (s *Store) Load(name Tier) (*Snapshot, error) {
	t, err := s.tier(name)
	if err != nil {
		return nil, err
	}

	e, err := s.readFile(t.policy.Path, false)
	if err != nil {
		return nil, err
	}

	t.current.Store(e)
	return e.snap, nil
}

// LoadBackup decompresses the backup of the tier into memory and returns it.
func (s *Store) LoadBackup(name Tier) (*Snapshot, error) {
	t, err := s.tier(name)
	if err != nil {
		return nil, err
	}

	e, err := s.readFile(t.policy.BackupPath(), true)
	if err != nil {
		return nil, err
	}

	t.current.Store(e)
	s.log.Infow("restored backup", "tier", name, "timestamp", e.snap.Timestamp)
	return e.snap, nil
}

func (s *Store) readFile(name string, compressed bool) (*entry, error) {
	if s.dir == "" {
		return nil, syncerr.New(syncerr.ErrEmpty, nil, "in-memory store has no file")
	}

	p := s.path(name)

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, syncerr.New(syncerr.ErrEmpty, nil, "%s does not exist", p)
	} else if err != nil {
		s.log.Warnw("failed to read cache file", "path", p, "error", err)
		return nil, syncerr.New(syncerr.ErrEmpty, err, "failed to read %s", p)
	}

	if compressed {
		data, err = decompress(data)
		if err != nil {
			s.log.Warnw("failed to decompress cache file", "path", p, "error", err)
			return nil, syncerr.New(syncerr.ErrEmpty, err, "failed to decompress %s", p)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warnw("failed to parse cache file", "path", p, "error", err)
		return nil, syncerr.New(syncerr.ErrEmpty, err, "failed to parse %s", p)
	}
	if snap.Domains == nil {
		snap.Domains = map[string][]entity.Record{}
	}

	return &entry{snap: &snap, etag: digest(data)}, nil
}

// Get returns the current snapshot of the tier and whether it is fresh.
//
// A stale snapshot is still returned, so callers can serve it while a refresh runs.
// forceRefresh makes the snapshot reported as not fresh.
// If nothing was ever committed or loaded, Get returns syncerr.ErrUninitialized.
func (s *Store) Get(name Tier, forceRefresh bool) (*Snapshot, bool, error) {
	t, err := s.tier(name)
	if err != nil {
		return nil, false, err
	}

	t.loadOnce.Do(func() {
		if t.current.Load() != nil {
			return
		}
		if e, err := s.readFile(t.policy.Path, false); err == nil {
			t.current.CompareAndSwap(nil, e)
		}
	})

	e := t.current.Load()
	if e == nil {
		return nil, false, syncerr.New(syncerr.ErrUninitialized, nil, "tier %s has no snapshot", name)
	}

	fresh := !forceRefresh && s.clock.Now().Sub(e.snap.Timestamp) < t.policy.Threshold
	return e.snap, fresh, nil
}

// ETag returns the digest of the current snapshot of the tier, or an empty string.
func (s *Store) ETag(name Tier) string {
	t, err := s.tier(name)
	if err != nil {
		return ""
	}
	if e := t.current.Load(); e != nil {
		return e.etag
	}
	return ""
}

// Commit stamps snap with the current time, persists it, and makes it the current snapshot.
//
// If persisting fails, Commit logs the error, keeps the previous snapshot, and returns false.
// The store takes ownership of snap.
func (s *Store) Commit(name Tier, snap *Snapshot) bool {
	return s.lockAndSave(name, snap, true)
}

// Replace is Commit without updating the timestamp.
func (s *Store) Replace(name Tier, snap *Snapshot) bool {
	return s.lockAndSave(name, snap, false)
}

// CompareAndReplace is Replace that applies only while old is still the current snapshot of the tier.
//
// It returns the snapshot as stored, which is the value to pass as old to the next CompareAndReplace.
// If another writer replaced the snapshot after old was read, it returns an error wrapping ErrConflict and changes nothing.
func (s *Store) CompareAndReplace(name Tier, old, snap *Snapshot) (*Snapshot, error) {
	t, err := s.tier(name)
	if err != nil {
		return nil, err
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	if cur := t.current.Load(); cur == nil || cur.snap != old {
		return nil, fmt.Errorf("%w: tier %s", ErrConflict, name)
	}

	e, err := s.save(t, name, snap, false)
	if err != nil {
		return nil, err
	}
	return e.snap, nil
}

func (s *Store) lockAndSave(name Tier, snap *Snapshot, stamp bool) bool {
	t, err := s.tier(name)
	if err != nil {
		s.log.Errorw("failed to save snapshot", "tier", name, "error", err)
		return false
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	_, err = s.save(t, name, snap, stamp)
	return err == nil
}

// save persists snap and swaps it in. The caller holds t.writeLock.
func (s *Store) save(t *tier, name Tier, snap *Snapshot, stamp bool) (*entry, error) {
	next := *snap
	if stamp {
		next.Timestamp = s.clock.Now()
	}
	if next.Domains == nil {
		next.Domains = map[string][]entity.Record{}
	}

	t.statsLock.Lock()
	next.Metadata.Hits = t.hits
	next.Metadata.Misses = t.misses
	next.Metadata.MeanLatency = float64(t.meanLatency) / float64(time.Millisecond)
	t.statsLock.Unlock()

	data, err := json.Marshal(&next)
	if err != nil {
		s.handleError(err, fmt.Sprintf("failed to encode snapshot of %s", name))
		return nil, err
	}

	if s.dir != "" {
		p := s.path(t.policy.Path)

		if err := backupFile(p, s.path(t.policy.BackupPath())); err != nil {
			// The previous file is still intact, so the commit goes on.
			s.log.Warnw("failed to rotate backup", "tier", name, "error", err)
		}

		if err := writeFileAtomic(p, data); err != nil {
			s.handleError(err, fmt.Sprintf("failed to write %s", p))
			return nil, err
		}
	}

	e := &entry{snap: &next, etag: digest(data)}
	t.current.Store(e)
	s.clearError()

	s.log.Debugw("saved snapshot", "tier", name, "records", next.Count(), "timestamp", next.Timestamp, "stamped", stamp)
	return e, nil
}

// handleError records a disk error for the health check.
func (s *Store) handleError(err error, message string) {
	s.log.Errorw(message, "error", err)

	s.errorsLock.Lock()
	defer s.errorsLock.Unlock()

	s.healthy = false
	s.errors = append(s.errors, fmt.Sprintf("%s\t%s", s.clock.Now().Format(time.RFC3339), message))
	if len(s.errors) > maxErrors {
		s.errors = s.errors[1:]
	}
}

func (s *Store) clearError() {
	s.errorsLock.Lock()
	defer s.errorsLock.Unlock()
	s.healthy = true
}

// Errors returns whether the last write succeeded, and the recent error messages.
func (s *Store) Errors() (healthy bool, messages []string) {
	s.errorsLock.RLock()
	defer s.errorsLock.RUnlock()

	return s.healthy, append([]string(nil), s.errors...)
}
