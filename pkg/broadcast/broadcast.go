// Package broadcast provides per-task pub/sub fan-out of events to live
// subscribers, locally or across instances through a shared Redis backend.
package broadcast

import (
	"context"

	"github.com/taskcast/taskcast/pkg/models"
)

// Handler receives one published event. Handlers for the same task are
// invoked in publish order; they must not block for long.
type Handler func(event models.TaskEvent)

// Unsubscribe detaches a handler. It is idempotent; after it returns the
// handler receives no further events.
type Unsubscribe func()

// Provider fans events out to all subscribers of a task channel.
// Publish is best-effort: it returns once local dispatch is initiated, not
// when handlers finish.
type Provider interface {
	Publish(ctx context.Context, taskID string, event models.TaskEvent) error
	Subscribe(ctx context.Context, taskID string, handler Handler) (Unsubscribe, error)
}
