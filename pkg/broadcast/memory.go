package broadcast

import (
	"context"
	"sync"

	"github.com/taskcast/taskcast/pkg/models"
)

// MemoryProvider is the single-process Provider. Handlers are keyed by a
// registration token so unsubscribing is an O(1) map deletion and never
// depends on handler identity.
type MemoryProvider struct {
	mu        sync.RWMutex
	nextToken uint64
	handlers  map[string]map[uint64]Handler
}

// NewMemoryProvider creates an empty in-process provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Publish dispatches the event to a snapshot of the task's handlers, so
// registration or deregistration during fan-out is safe.
func (p *MemoryProvider) Publish(_ context.Context, taskID string, event models.TaskEvent) error {
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
	return nil
}

// Subscribe registers a handler for the task and returns its detach function.
func (p *MemoryProvider) Subscribe(_ context.Context, taskID string, handler Handler) (Unsubscribe, error) {
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

// SubscriberCount reports how many handlers are registered for the task.
func (p *MemoryProvider) SubscriberCount(taskID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers[taskID])
}
