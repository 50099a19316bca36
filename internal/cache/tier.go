package cache

import (
	"errors"
	"fmt"
	"time"
)

// Tier names a cache tier.
type Tier string

const (
	Fast     Tier = "fast"
	Standard Tier = "standard"
	Long     Tier = "long"
)

var ErrUnknownTier = errors.New("unknown tier")

// ErrConflict means the snapshot was replaced by another writer in the meantime.
var ErrConflict = errors.New("snapshot changed concurrently")

// TierPolicy is the staleness threshold and the storage location of a tier.
type TierPolicy struct {
	Name      Tier
	Threshold time.Duration

	// Path is the file name of the tier, relative to the store directory.
	Path string
}

// DefaultPolicies returns the three standard tiers.
func DefaultPolicies() []TierPolicy {
	return []TierPolicy{
		{Name: Fast, Threshold: 30 * time.Second, Path: "cache_fast.json"},
		{Name: Standard, Threshold: time.Hour, Path: "cache_standard.json"},
		{Name: Long, Threshold: 24 * time.Hour, Path: "cache_long.json"},
	}
}

// PolicyFor returns the default policy of a tier name, with threshold replaced if threshold > 0.
func PolicyFor(name Tier, threshold time.Duration) (TierPolicy, error) {
	for _, p := range DefaultPolicies() {
		if p.Name == name {
			if threshold > 0 {
				p.Threshold = threshold
			}
			return p, nil
		}
	}
	return TierPolicy{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
}

// BackupPath returns the file name of the compressed backup.
func (p TierPolicy) BackupPath() string {
	return p.Path + ".bak.zst"
}
