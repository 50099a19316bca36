// Package publish republishes committed snapshots to downstream consumers.
//
// Publishing is best-effort: a failed publish is logged by the caller and never rolls back a commit.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/entity"
)

// Event announces a newly committed snapshot.
type Event struct {
	Tier      cache.Tier      `json:"tier"`
	SyncID    string          `json:"sync_id"`
	Timestamp time.Time       `json:"timestamp"`
	Counts    map[string]int  `json:"counts"`
	Quality   float64         `json:"quality"`
	Records   []entity.Record `json:"records"`
}

// NewEvent builds the event of a committed snapshot.
func NewEvent(tier cache.Tier, snap *cache.Snapshot) Event {
	return Event{
		Tier:      tier,
		SyncID:    snap.Metadata.SyncID,
		Timestamp: snap.Timestamp,
		Counts:    snap.DomainCounts(),
		Quality:   snap.Metadata.Quality,
		Records:   snap.Records(),
	}
}

// Encode returns the JSON form of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events downstream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Multi fans an event out to every publisher.
type Multi []Publisher

// Publish sends e to every publisher, even if some of them fail.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
