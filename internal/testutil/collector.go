package testutil

import (
	"context"
	"sync"

	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/syncerr"
)

// FakeCollector is a scripted collector.Collector.
//
// Each FetchAllEntities call pops the head of Errors; when it is nil or Errors is empty, Entities is returned.
type FakeCollector struct {
	sync.Mutex

	Entities []entity.Record
	Errors   []error
	Calls    int

	// Block, if not nil, is received from before answering. Use it to hold a refresh in flight.
	Block chan struct{}
}

func (c *FakeCollector) FetchAllEntities(ctx context.Context) ([]entity.Record, error) {
	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.Lock()
	defer c.Unlock()

	c.Calls++

	if len(c.Errors) > 0 {
		err := c.Errors[0]
		c.Errors = c.Errors[1:]
		if err != nil {
			return nil, err
		}
	}

	rs := make([]entity.Record, len(c.Entities))
	for i, r := range c.Entities {
		rs[i] = r.Clone()
	}
	return rs, nil
}

// SetEntities replaces the listing.
func (c *FakeCollector) SetEntities(rs ...entity.Record) {
	c.Lock()
	defer c.Unlock()
	c.Entities = rs
}

// FailNext makes the next n calls fail with err.
func (c *FakeCollector) FailNext(n int, err error) {
	c.Lock()
	defer c.Unlock()
	for i := 0; i < n; i++ {
		c.Errors = append(c.Errors, err)
	}
}

// CallCount returns how many times FetchAllEntities was answered.
func (c *FakeCollector) CallCount() int {
	c.Lock()
	defer c.Unlock()
	return c.Calls
}

// FakeExtended adds detailed metrics and alert resolution to FakeCollector.
type FakeExtended struct {
	FakeCollector

	Details     map[string]map[string]entity.Measurements
	DetailErrs  map[string]error
	Alerts      map[string]string
	DetailCalls []string

	// OnDetail, if set, is called at the start of every detail fetch.
	OnDetail func(id string)
}

func (c *FakeExtended) FetchDetailedMetrics(ctx context.Context, recordID, domain string) (map[string]entity.Measurements, error) {
	if c.OnDetail != nil {
		c.OnDetail(recordID)
	}

	c.Lock()
	defer c.Unlock()

	c.DetailCalls = append(c.DetailCalls, recordID)

	if err, ok := c.DetailErrs[recordID]; ok {
		return nil, err
	}

	ws, ok := c.Details[recordID]
	if !ok {
		return nil, syncerr.New(syncerr.ErrEmpty, nil, "no details of %s", recordID)
	}

	out := make(map[string]entity.Measurements, len(ws))
	for label, ms := range ws {
		out[label] = ms.Clone()
	}
	return out, nil
}

func (c *FakeExtended) ResolveAlert(ctx context.Context, alertID string) (string, error) {
	c.Lock()
	defer c.Unlock()

	if id, ok := c.Alerts[alertID]; ok {
		return id, nil
	}
	return "", syncerr.New(syncerr.ErrEmpty, nil, "no such alert: %s", alertID)
}

// DetailCallCount returns how many detail fetches were answered.
func (c *FakeExtended) DetailCallCount() int {
	c.Lock()
	defer c.Unlock()
	return len(c.DetailCalls)
}
