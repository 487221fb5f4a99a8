package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/pkg/models"
)

func newTestRedisProvider(t *testing.T, mr *miniredis.Miniredis, opts ...RedisProviderOption) *RedisProvider {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p, err := NewRedisProvider(context.Background(), client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// collector accumulates delivered events for assertions across goroutines.
type collector struct {
	mu     sync.Mutex
	events []models.TaskEvent
}

func (c *collector) handler(event models.TaskEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) snapshot() []models.TaskEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.TaskEvent, len(c.events))
	copy(out, c.events)
	return out
}

func TestRedisProviderDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestRedisProvider(t, mr)
	subscriber := newTestRedisProvider(t, mr)
	ctx := context.Background()

	var got collector
	unsubscribe, err := subscriber.Subscribe(ctx, "task_01", got.handler)
	require.NoError(t, err)
	defer unsubscribe()

	event := models.TaskEvent{ID: "evt_0", TaskID: "task_01", Index: 0, Timestamp: 100, Type: "log", Level: models.LevelInfo, Data: "line"}
	require.NoError(t, publisher.Publish(ctx, "task_01", event))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	delivered := got.snapshot()[0]
	assert.Equal(t, "evt_0", delivered.ID)
	assert.Equal(t, "task_01", delivered.TaskID)
	assert.Equal(t, "line", delivered.Data)
}

func TestRedisProviderPublisherReceivesOwnEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	p := newTestRedisProvider(t, mr)
	ctx := context.Background()

	var got collector
	unsubscribe, err := p.Subscribe(ctx, "task_01", got.handler)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, p.Publish(ctx, "task_01", models.TaskEvent{ID: "evt_0", TaskID: "task_01"}))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisProviderChannelIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	p := newTestRedisProvider(t, mr)
	ctx := context.Background()

	var a, b collector
	unsubA, err := p.Subscribe(ctx, "task_a", a.handler)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := p.Subscribe(ctx, "task_b", b.handler)
	require.NoError(t, err)
	defer unsubB()

	require.NoError(t, p.Publish(ctx, "task_a", models.TaskEvent{ID: "evt_a", TaskID: "task_a"}))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, b.snapshot())
}

func TestRedisProviderUnsubscribeStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	p := newTestRedisProvider(t, mr)
	ctx := context.Background()

	var kept, dropped collector
	unsubKept, err := p.Subscribe(ctx, "task_01", kept.handler)
	require.NoError(t, err)
	defer unsubKept()
	unsubDropped, err := p.Subscribe(ctx, "task_01", dropped.handler)
	require.NoError(t, err)

	unsubDropped()
	unsubDropped() // idempotent

	require.NoError(t, p.Publish(ctx, "task_01", models.TaskEvent{ID: "evt_0", TaskID: "task_01"}))

	require.Eventually(t, func() bool {
		return len(kept.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, dropped.snapshot())
}

func TestRedisProviderCustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	p := newTestRedisProvider(t, mr, WithChannelPrefix("myapp"))
	ctx := context.Background()

	var got collector
	unsubscribe, err := p.Subscribe(ctx, "task_01", got.handler)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, p.Publish(ctx, "task_01", models.TaskEvent{ID: "evt_0", TaskID: "task_01"}))

	require.Eventually(t, func() bool {
		return len(got.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
