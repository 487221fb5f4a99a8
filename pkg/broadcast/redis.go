package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/taskcast/taskcast/pkg/models"
)

// DefaultChannelPrefix is used when no prefix option is given. It matches the
// short-term store's key prefix so one configuration value covers both.
const DefaultChannelPrefix = "taskcast"

// RedisProvider delivers events across instances through Redis pub/sub.
//
// At construction it opens a single pattern subscription covering every task
// channel ({prefix}:task:*). One background reader decodes incoming messages,
// extracts the task id from the channel name, and dispatches to locally
// registered handlers. Subscribe never touches the backend; it only mutates
// the local handler map. Publish always goes through the backend, so every
// instance, including the publishing one, receives the event.
type RedisProvider struct {
	client *redis.Client
	prefix string

	mu        sync.RWMutex
	nextToken uint64
	handlers  map[string]map[uint64]Handler

	pubsub   *redis.PubSub
	loopDone chan struct{}
}

// RedisProviderOption configures a RedisProvider.
type RedisProviderOption func(*RedisProvider)

// WithChannelPrefix overrides the channel namespace prefix.
func WithChannelPrefix(prefix string) RedisProviderOption {
	return func(p *RedisProvider) {
		p.prefix = prefix
	}
}

// NewRedisProvider opens the pattern subscription and starts the reader loop.
// Call Close to stop the reader and release the subscription.
func NewRedisProvider(ctx context.Context, client *redis.Client, opts ...RedisProviderOption) (*RedisProvider, error) {
	p := &RedisProvider{
		client:   client,
		prefix:   DefaultChannelPrefix,
		handlers: make(map[string]map[uint64]Handler),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.pubsub = client.PSubscribe(ctx, p.pattern())
	// Confirm the subscription before returning so no published event can
	// slip past a provider that claims to be ready.
	if _, err := p.pubsub.Receive(ctx); err != nil {
		_ = p.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", p.pattern(), err)
	}

	go p.receiveLoop()
	return p, nil
}

func (p *RedisProvider) pattern() string {
	return fmt.Sprintf("%s:task:*", p.prefix)
}

func (p *RedisProvider) channel(taskID string) string {
	return fmt.Sprintf("%s:task:%s", p.prefix, taskID)
}

// receiveLoop dispatches backend messages to local handlers until the pub/sub
// connection is closed.
func (p *RedisProvider) receiveLoop() {
	defer close(p.loopDone)

	trim := fmt.Sprintf("%s:task:", p.prefix)
	for msg := range p.pubsub.Channel() {
		taskID := strings.TrimPrefix(msg.Channel, trim)

		var event models.TaskEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			slog.Warn("Dropping undecodable broadcast message", "channel", msg.Channel, "error", err)
			continue
		}

		p.mu.RLock()
		registered := p.handlers[taskID]
		snapshot := make([]Handler, 0, len(registered))
		for _, h := range registered {
			snapshot = append(snapshot, h)
		}
		p.mu.RUnlock()

		for _, h := range snapshot {
			h(event)
		}
	}
}

// Publish writes the event to the task's backend channel.
func (p *RedisProvider) Publish(ctx context.Context, taskID string, event models.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel(taskID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel(taskID), err)
	}
	return nil
}

// Subscribe registers a local handler for the task. No backend round trip:
// the pattern subscription opened at construction already covers the channel.
func (p *RedisProvider) Subscribe(_ context.Context, taskID string, handler Handler) (Unsubscribe, error) {
	p.mu.Lock()
	p.nextToken++
	token := p.nextToken
	if p.handlers[taskID] == nil {
		p.handlers[taskID] = make(map[uint64]Handler)
	}
	p.handlers[taskID][token] = handler
	p.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.handlers[taskID], token)
			if len(p.handlers[taskID]) == 0 {
				delete(p.handlers, taskID)
			}
		})
	}
	return unsubscribe, nil
}

// Close stops the reader loop and releases the backend subscription.
func (p *RedisProvider) Close() error {
	err := p.pubsub.Close()
	<-p.loopDone
	return err
}
