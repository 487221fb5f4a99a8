// Package store defines the short-term and long-term storage contracts the
// task engine depends on, plus the in-memory and Redis implementations.
package store

import (
	"context"

	"github.com/taskcast/taskcast/pkg/models"
)

// ShortTermStore is the hot path for task records, per-task event logs,
// series-latest state, and the per-task index counter.
//
// NextIndex is the critical operation: indices for a given task must be
// unique, monotonically increasing, and dense starting at 0 under arbitrary
// concurrency across every process sharing the store.
type ShortTermStore interface {
	SaveTask(ctx context.Context, task models.Task) error
	// GetTask returns (nil, nil) when the task does not exist.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	AppendEvent(ctx context.Context, taskID string, event models.TaskEvent) error
	GetEvents(ctx context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error)
	// NextIndex returns the next per-task index and atomically increments it.
	NextIndex(ctx context.Context, taskID string) (uint64, error)
	// SetTTL schedules expiry of every per-task key, including series state.
	SetTTL(ctx context.Context, taskID string, seconds int) error
	// GetSeriesLatest returns (nil, nil) when the series has no stored event.
	GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*models.TaskEvent, error)
	SetSeriesLatest(ctx context.Context, taskID, seriesID string, event models.TaskEvent) error
	// ReplaceLastSeriesEvent replaces the previous series-latest entry in the
	// log in place (located by event id, scanning from the tail), or appends
	// when the series has no previous entry. Updates series-latest either way.
	ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, event models.TaskEvent) error
	// DeleteTask removes the task record and all per-task state.
	DeleteTask(ctx context.Context, taskID string) error
	// DeleteEvents removes the given event ids from the per-task log.
	DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error
	// ListTaskIDs returns the ids of all tasks currently in the store.
	ListTaskIDs(ctx context.Context) ([]string, error)
}

// LongTermStore is an optional durable archive of tasks and events. Writes
// must be idempotent: task saves upsert a defined subset of mutable columns,
// event saves are insert-or-ignore on the event id.
type LongTermStore interface {
	SaveTask(ctx context.Context, task models.Task) error
	// GetTask returns (nil, nil) when the task does not exist.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	SaveEvent(ctx context.Context, event models.TaskEvent) error
	GetEvents(ctx context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error)
}
