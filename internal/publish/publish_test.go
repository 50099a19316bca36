package publish_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/publish"
	"github.com/macrat/telecache/internal/validity"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() publish.Event {
	snap := cache.NewSnapshot([]entity.Record{
		{ID: "a", Name: "a", Domain: "APM"},
		{ID: "b", Name: "b", Domain: "INFRA"},
		{ID: "c", Name: "c", Domain: "APM"},
	}, validity.Summary{Total: 4, Valid: 3})
	snap.Timestamp = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	snap.Metadata.SyncID = "sync-1"

	return publish.NewEvent(cache.Standard, snap)
}

func TestNewEvent(t *testing.T) {
	e := sampleEvent()

	assert.Equal(t, cache.Standard, e.Tier)
	assert.Equal(t, "sync-1", e.SyncID)
	assert.Equal(t, map[string]int{"APM": 2, "INFRA": 1}, e.Counts)
	assert.Equal(t, 75.0, e.Quality)
	require.Len(t, e.Records, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{e.Records[0].ID, e.Records[1].ID, e.Records[2].ID})
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka(t *testing.T) {
	w := &fakeWriter{}
	p := publish.NewKafkaWithWriter(w, "telemetry.snapshots")

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "telemetry.snapshots", m.Topic)
	assert.Equal(t, "standard", string(m.Key))

	var got publish.Event
	require.NoError(t, json.Unmarshal(m.Value, &got))
	assert.Equal(t, "sync-1", got.SyncID)
	assert.Len(t, got.Records, 3)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafka_validation(t *testing.T) {
	_, err := publish.NewKafka(nil, "topic")
	assert.Error(t, err)

	_, err = publish.NewKafka([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

type fakeRedis struct {
	sets      map[string]time.Duration
	published map[string][]string
	closed    bool
}

func (r *fakeRedis) Set(_ context.Context, key string, _ any, expiration time.Duration) *redis.StatusCmd {
	r.sets[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	r.published[channel] = append(r.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (r *fakeRedis) Close() error {
	r.closed = true
	return nil
}

func TestRedis(t *testing.T) {
	r := &fakeRedis{sets: map[string]time.Duration{}, published: map[string][]string{}}
	p := publish.NewRedisWithClient(r, "", func(tier string) time.Duration {
		if tier == "standard" {
			return time.Hour
		}
		return 0
	})

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	assert.Equal(t, map[string]time.Duration{"telecache:snapshot:standard": time.Hour}, r.sets)
	require.Len(t, r.published[publish.DefaultRedisChannel], 1)
	assert.Contains(t, r.published[publish.DefaultRedisChannel][0], `"key":"telecache:snapshot:standard"`)

	require.NoError(t, p.Close())
	assert.True(t, r.closed)
}

type failing struct{ closed bool }

func (f *failing) Publish(context.Context, publish.Event) error { return errors.New("nope") }
func (f *failing) Close() error                                 { f.closed = true; return nil }

func TestMulti(t *testing.T) {
	w := &fakeWriter{}
	f := &failing{}
	m := publish.Multi{f, publish.NewKafkaWithWriter(w, "t")}

	err := m.Publish(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Len(t, w.msgs, 1, "a failing publisher must not block the others")

	require.NoError(t, m.Close())
	assert.True(t, f.closed)
	assert.True(t, w.closed)
}
