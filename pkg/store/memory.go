package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskcast/taskcast/pkg/models"
)

// MemoryStore is the reference in-process ShortTermStore. Map access is
// mediated by a reader/writer lock; the per-task index counter is an atomic
// fetch-add so concurrent emitters always obtain dense, unique indices.
type MemoryStore struct {
	mu           sync.RWMutex
	tasks        map[string]models.Task
	events       map[string][]models.TaskEvent
	seriesLatest map[string]models.TaskEvent

	countersMu sync.Mutex
	counters   map[string]*atomic.Uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:        make(map[string]models.Task),
		events:       make(map[string][]models.TaskEvent),
		seriesLatest: make(map[string]models.TaskEvent),
		counters:     make(map[string]*atomic.Uint64),
	}
}

func seriesKey(taskID, seriesID string) string {
	return taskID + ":" + seriesID
}

// SaveTask upserts the full task record.
func (s *MemoryStore) SaveTask(_ context.Context, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

// GetTask returns (nil, nil) when the task does not exist.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &task, nil
}

// AppendEvent appends to the per-task log.
func (s *MemoryStore) AppendEvent(_ context.Context, taskID string, event models.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[taskID] = append(s.events[taskID], event)
	return nil
}

// GetEvents returns events in raw-index order with the cursor and limit
// applied. Cursor precedence: id > index > timestamp; an unknown since.id is
// ignored and the full log is returned.
func (s *MemoryStore) GetEvents(_ context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error) {
	s.mu.RLock()
	log := s.events[taskID]
	result := make([]models.TaskEvent, len(log))
	copy(result, log)
	s.mu.RUnlock()

	result = ApplyCursor(result, opts)
	return result, nil
}

// NextIndex returns the next per-task index and atomically increments it.
func (s *MemoryStore) NextIndex(_ context.Context, taskID string) (uint64, error) {
	s.countersMu.Lock()
	counter, ok := s.counters[taskID]
	if !ok {
		counter = &atomic.Uint64{}
		s.counters[taskID] = counter
	}
	s.countersMu.Unlock()

	return counter.Add(1) - 1, nil
}

// SetTTL schedules removal of all per-task state after the given duration.
func (s *MemoryStore) SetTTL(_ context.Context, taskID string, seconds int) error {
	time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		_ = s.DeleteTask(context.Background(), taskID)
	})
	return nil
}

// GetSeriesLatest returns (nil, nil) when the series has no stored event.
func (s *MemoryStore) GetSeriesLatest(_ context.Context, taskID, seriesID string) (*models.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.seriesLatest[seriesKey(taskID, seriesID)]
	if !ok {
		return nil, nil
	}
	return &event, nil
}

// SetSeriesLatest upserts the latest event for the series.
func (s *MemoryStore) SetSeriesLatest(_ context.Context, taskID, seriesID string, event models.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seriesLatest[seriesKey(taskID, seriesID)] = event
	return nil
}

// ReplaceLastSeriesEvent replaces the previous series-latest entry in the log
// in place, scanning from the tail so the most recent instance is the one
// replaced. Appends when the series has no previous entry.
func (s *MemoryStore) ReplaceLastSeriesEvent(_ context.Context, taskID, seriesID string, event models.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(taskID, seriesID)
	prev, hasPrev := s.seriesLatest[key]

	replaced := false
	if hasPrev {
		log := s.events[taskID]
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].ID == prev.ID {
				log[i] = event
				replaced = true
				break
			}
		}
	}
	if !replaced {
		s.events[taskID] = append(s.events[taskID], event)
	}

	s.seriesLatest[key] = event
	return nil
}

// DeleteTask removes the task record and all per-task state.
func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.tasks, taskID)
	delete(s.events, taskID)
	prefix := taskID + ":"
	for key := range s.seriesLatest {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.seriesLatest, key)
		}
	}
	s.mu.Unlock()

	s.countersMu.Lock()
	delete(s.counters, taskID)
	s.countersMu.Unlock()
	return nil
}

// DeleteEvents removes the given event ids from the per-task log.
func (s *MemoryStore) DeleteEvents(_ context.Context, taskID string, eventIDs []string) error {
	drop := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.events[taskID]
	kept := log[:0]
	for _, event := range log {
		if _, gone := drop[event.ID]; !gone {
			kept = append(kept, event)
		}
	}
	s.events[taskID] = kept
	return nil
}

// ListTaskIDs returns the ids of all tasks currently in the store.
func (s *MemoryStore) ListTaskIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids, nil
}

// ApplyCursor applies since/limit semantics to an in-order event slice.
// Shared by the in-memory store and by tests asserting cursor precedence.
func ApplyCursor(events []models.TaskEvent, opts *models.EventQueryOptions) []models.TaskEvent {
	if opts == nil {
		return events
	}

	result := events
	if since := opts.Since; since != nil {
		switch {
		case since.ID != "":
			anchor := -1
			for i, event := range result {
				if event.ID == since.ID {
					anchor = i
					break
				}
			}
			if anchor >= 0 {
				result = result[anchor+1:]
			}
		case since.Index != nil:
			filtered := make([]models.TaskEvent, 0, len(result))
			for _, event := range result {
				if event.Index > *since.Index {
					filtered = append(filtered, event)
				}
			}
			result = filtered
		case since.Timestamp != nil:
			filtered := make([]models.TaskEvent, 0, len(result))
			for _, event := range result {
				if event.Timestamp > *since.Timestamp {
					filtered = append(filtered, event)
				}
			}
			result = filtered
		}
	}

	if opts.Limit != nil && *opts.Limit >= 0 && len(result) > *opts.Limit {
		result = result[:*opts.Limit]
	}
	return result
}
