package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskcast/taskcast/pkg/broadcast"
	"github.com/taskcast/taskcast/pkg/models"
	"github.com/taskcast/taskcast/pkg/store"
)

// WebhookSender delivers one configured webhook for an emitted event. The
// engine fans deliveries out asynchronously; a non-nil error means the
// delivery exhausted its retries.
type WebhookSender interface {
	Deliver(ctx context.Context, config models.WebhookConfig, event models.TaskEvent) error
}

// Options carries the engine's collaborators. ShortTerm and Broadcast are
// required; LongTerm, Hooks and Webhooks are optional.
type Options struct {
	ShortTerm store.ShortTermStore
	LongTerm  store.LongTermStore
	Broadcast broadcast.Provider
	Hooks     *Hooks
	Webhooks  WebhookSender
}

// Engine is the public task surface: create, read, transition, publish, query,
// subscribe. Correctness under concurrent callers rests on the store's atomic
// per-task index, not on locks held here.
type Engine struct {
	shortTerm store.ShortTermStore
	longTerm  store.LongTermStore
	broadcast broadcast.Provider
	hooks     *Hooks
	webhooks  WebhookSender

	now   func() float64
	newID func() string
}

// New creates an engine from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		shortTerm: opts.ShortTerm,
		longTerm:  opts.LongTerm,
		broadcast: opts.Broadcast,
		hooks:     opts.Hooks,
		webhooks:  opts.Webhooks,
		now:       nowMillis,
		newID:     newSortableID,
	}
}

// CreateTask registers a new task in Pending status. A missing id is
// synthesized as a sortable unique id. The long-term write is best-effort.
func (e *Engine) CreateTask(ctx context.Context, input models.CreateTaskInput) (models.Task, error) {
	now := e.now()
	id := input.ID
	if id == "" {
		id = e.newID()
	}

	task := models.Task{
		ID:         id,
		Type:       input.Type,
		Status:     models.StatusPending,
		Params:     input.Params,
		Metadata:   input.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		TTL:        input.TTL,
		AuthConfig: input.AuthConfig,
		Webhooks:   input.Webhooks,
		Cleanup:    input.Cleanup,
	}

	if err := e.shortTerm.SaveTask(ctx, task); err != nil {
		return models.Task{}, &StoreError{Op: "save task", Err: err}
	}
	e.saveTaskLongTerm(ctx, task)

	if task.TTL != nil {
		if err := e.shortTerm.SetTTL(ctx, task.ID, *task.TTL); err != nil {
			return models.Task{}, &StoreError{Op: "set ttl", Err: err}
		}
	}

	return task, nil
}

// GetTask reads short-term first and falls back to the long-term archive.
// Returns (nil, nil) when the task exists in neither.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := e.shortTerm.GetTask(ctx, taskID)
	if err != nil {
		return nil, &StoreError{Op: "get task", Err: err}
	}
	if task != nil {
		return task, nil
	}
	if e.longTerm != nil {
		task, err = e.longTerm.GetTask(ctx, taskID)
		if err != nil {
			return nil, &StoreError{Op: "get task long-term", Err: err}
		}
		return task, nil
	}
	return nil, nil
}

// TransitionTask moves the task to a new status, merging any payload result or
// error over the existing values, and emits the status event.
func (e *Engine) TransitionTask(ctx context.Context, taskID string, to models.TaskStatus, payload *models.TransitionPayload) (models.Task, error) {
	task, err := e.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if task == nil {
		return models.Task{}, ErrTaskNotFound
	}

	if !CanTransition(task.Status, to) {
		return models.Task{}, &InvalidTransitionError{From: task.Status, To: to}
	}

	now := e.now()
	updated := *task
	updated.Status = to
	updated.UpdatedAt = now
	if IsTerminal(to) {
		updated.CompletedAt = &now
	}
	if payload != nil {
		if payload.Result != nil {
			updated.Result = payload.Result
		}
		if payload.Error != nil {
			updated.Error = payload.Error
		}
	}

	if err := e.shortTerm.SaveTask(ctx, updated); err != nil {
		return models.Task{}, &StoreError{Op: "save task", Err: err}
	}
	e.saveTaskLongTerm(ctx, updated)

	data := map[string]any{"status": to}
	if updated.Result != nil {
		data["result"] = updated.Result
	}
	if updated.Error != nil {
		data["error"] = updated.Error
	}
	if _, err := e.emit(ctx, updated, models.PublishEventInput{
		Type:  models.StatusEventType,
		Level: models.LevelInfo,
		Data:  data,
	}); err != nil {
		return models.Task{}, err
	}

	switch to {
	case models.StatusFailed:
		e.hooks.taskFailed(updated)
	case models.StatusTimeout:
		e.hooks.taskTimeout(updated)
	}

	return updated, nil
}

// PublishEvent appends an event to a live task's timeline.
func (e *Engine) PublishEvent(ctx context.Context, taskID string, input models.PublishEventInput) (models.TaskEvent, error) {
	task, err := e.GetTask(ctx, taskID)
	if err != nil {
		return models.TaskEvent{}, err
	}
	if task == nil {
		return models.TaskEvent{}, ErrTaskNotFound
	}
	if IsTerminal(task.Status) {
		return models.TaskEvent{}, &TaskTerminalError{Status: task.Status}
	}

	return e.emit(ctx, *task, input)
}

// GetEvents reads the task's history in index order.
func (e *Engine) GetEvents(ctx context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error) {
	events, err := e.shortTerm.GetEvents(ctx, taskID, opts)
	if err != nil {
		return nil, &StoreError{Op: "get events", Err: err}
	}
	return events, nil
}

// Subscribe attaches a live handler for the task's event channel.
func (e *Engine) Subscribe(ctx context.Context, taskID string, handler broadcast.Handler) (broadcast.Unsubscribe, error) {
	return e.broadcast.Subscribe(ctx, taskID, handler)
}

// emit assembles an event and runs the full pipeline: index allocation,
// series compaction, short-term append, broadcast, asynchronous long-term
// archive, webhook dispatch. The index is obtained exactly once per event,
// before anything is published.
func (e *Engine) emit(ctx context.Context, task models.Task, input models.PublishEventInput) (models.TaskEvent, error) {
	index, err := e.shortTerm.NextIndex(ctx, task.ID)
	if err != nil {
		return models.TaskEvent{}, &StoreError{Op: "next index", Err: err}
	}

	raw := models.TaskEvent{
		ID:         e.newID(),
		TaskID:     task.ID,
		Index:      index,
		Timestamp:  e.now(),
		Type:       input.Type,
		Level:      input.Level,
		Data:       input.Data,
		SeriesID:   input.SeriesID,
		SeriesMode: input.SeriesMode,
	}

	event, err := ProcessSeries(ctx, e.shortTerm, raw)
	if err != nil {
		return models.TaskEvent{}, err
	}

	// latest-mode events are already placed in the log by the series replace;
	// appending again would duplicate them.
	if event.SeriesID == "" || event.SeriesMode != models.SeriesLatest {
		if err := e.shortTerm.AppendEvent(ctx, task.ID, event); err != nil {
			return models.TaskEvent{}, &StoreError{Op: "append event", Err: err}
		}
	}

	if err := e.broadcast.Publish(ctx, task.ID, event); err != nil {
		return models.TaskEvent{}, &StoreError{Op: "publish", Err: err}
	}

	if e.longTerm != nil {
		go func(event models.TaskEvent) {
			if err := e.longTerm.SaveEvent(context.Background(), event); err != nil {
				e.hooks.eventDropped(event, err.Error())
			}
		}(event)
	}

	e.dispatchWebhooks(task, event)

	return event, nil
}

// dispatchWebhooks fans out the task's configured webhooks asynchronously.
func (e *Engine) dispatchWebhooks(task models.Task, event models.TaskEvent) {
	if e.webhooks == nil || len(task.Webhooks) == 0 {
		return
	}
	for _, config := range task.Webhooks {
		go func(config models.WebhookConfig) {
			if err := e.webhooks.Deliver(context.Background(), config, event); err != nil {
				e.hooks.WebhookFailed(task.ID, config.URL, err)
			}
		}(config)
	}
}

// saveTaskLongTerm archives the task record best-effort; archive failures
// never fail the originating call.
func (e *Engine) saveTaskLongTerm(ctx context.Context, task models.Task) {
	if e.longTerm == nil {
		return
	}
	if err := e.longTerm.SaveTask(ctx, task); err != nil {
		slog.Warn("Failed to archive task to long-term store", "task_id", task.ID, "error", err)
	}
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}

// newSortableID returns a time-ordered unique id (UUIDv7).
func newSortableID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
