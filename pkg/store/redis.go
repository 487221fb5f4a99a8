package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskcast/taskcast/pkg/models"
)

// DefaultKeyPrefix is used when no prefix option is given.
const DefaultKeyPrefix = "taskcast"

// RedisStore is the shared-backend ShortTermStore. The per-task index counter
// is a server-side INCR, which is the only cross-process coordination point:
// indices stay unique and dense no matter how many instances share the store.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) taskKey(taskID string) string {
	return fmt.Sprintf("%s:task:%s", s.prefix, taskID)
}

func (s *RedisStore) eventsKey(taskID string) string {
	return fmt.Sprintf("%s:events:%s", s.prefix, taskID)
}

func (s *RedisStore) idxKey(taskID string) string {
	return fmt.Sprintf("%s:idx:%s", s.prefix, taskID)
}

func (s *RedisStore) seriesKey(taskID, seriesID string) string {
	return fmt.Sprintf("%s:series:%s:%s", s.prefix, taskID, seriesID)
}

func (s *RedisStore) seriesIDsKey(taskID string) string {
	return fmt.Sprintf("%s:seriesIds:%s", s.prefix, taskID)
}

// SaveTask upserts the full task record.
func (s *RedisStore) SaveTask(ctx context.Context, task models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.client.Set(ctx, s.taskKey(task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask returns (nil, nil) when the task does not exist.
func (s *RedisStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// AppendEvent appends to the per-task log.
func (s *RedisStore) AppendEvent(ctx context.Context, taskID string, event models.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.RPush(ctx, s.eventsKey(taskID), data).Err(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetEvents returns events in raw-index order with the cursor and limit applied.
func (s *RedisStore) GetEvents(ctx context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error) {
	raw, err := s.client.LRange(ctx, s.eventsKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}

	events := make([]models.TaskEvent, 0, len(raw))
	for _, item := range raw {
		var event models.TaskEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return ApplyCursor(events, opts), nil
}

// NextIndex returns the next per-task index using a server-side atomic
// increment. Indices must never be derived from the list length client-side.
func (s *RedisStore) NextIndex(ctx context.Context, taskID string) (uint64, error) {
	n, err := s.client.Incr(ctx, s.idxKey(taskID)).Result()
	if err != nil {
		return 0, fmt.Errorf("next index: %w", err)
	}
	return uint64(n - 1), nil
}

// SetTTL applies the TTL to every per-task key, fanning out to each known
// series key through the seriesIds set.
func (s *RedisStore) SetTTL(ctx context.Context, taskID string, seconds int) error {
	ttl := time.Duration(seconds) * time.Second

	seriesIDs, err := s.client.SMembers(ctx, s.seriesIDsKey(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("set ttl: list series ids: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.taskKey(taskID), ttl)
	pipe.Expire(ctx, s.eventsKey(taskID), ttl)
	pipe.Expire(ctx, s.idxKey(taskID), ttl)
	pipe.Expire(ctx, s.seriesIDsKey(taskID), ttl)
	for _, seriesID := range seriesIDs {
		pipe.Expire(ctx, s.seriesKey(taskID, seriesID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set ttl: %w", err)
	}
	return nil
}

// GetSeriesLatest returns (nil, nil) when the series has no stored event.
func (s *RedisStore) GetSeriesLatest(ctx context.Context, taskID, seriesID string) (*models.TaskEvent, error) {
	data, err := s.client.Get(ctx, s.seriesKey(taskID, seriesID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series latest: %w", err)
	}

	var event models.TaskEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal series latest: %w", err)
	}
	return &event, nil
}

// SetSeriesLatest upserts the latest event and records series membership for
// the TTL fan-out.
func (s *RedisStore) SetSeriesLatest(ctx context.Context, taskID, seriesID string, event models.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal series latest: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.seriesKey(taskID, seriesID), data, 0)
	pipe.SAdd(ctx, s.seriesIDsKey(taskID), seriesID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set series latest: %w", err)
	}
	return nil
}

// ReplaceLastSeriesEvent locates the previous series-latest entry by event id
// scanning the log from the tail and overwrites it with LSET; appends when no
// previous entry exists. Updates series-latest to the new event.
func (s *RedisStore) ReplaceLastSeriesEvent(ctx context.Context, taskID, seriesID string, event models.TaskEvent) error {
	prev, err := s.GetSeriesLatest(ctx, taskID, seriesID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	replaced := false
	if prev != nil {
		raw, err := s.client.LRange(ctx, s.eventsKey(taskID), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("replace series event: %w", err)
		}
		for i := len(raw) - 1; i >= 0; i-- {
			var candidate models.TaskEvent
			if err := json.Unmarshal([]byte(raw[i]), &candidate); err != nil {
				continue
			}
			if candidate.ID == prev.ID {
				if err := s.client.LSet(ctx, s.eventsKey(taskID), int64(i), data).Err(); err != nil {
					return fmt.Errorf("replace series event: %w", err)
				}
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if err := s.client.RPush(ctx, s.eventsKey(taskID), data).Err(); err != nil {
			return fmt.Errorf("replace series event: %w", err)
		}
	}

	return s.SetSeriesLatest(ctx, taskID, seriesID, event)
}

// DeleteTask removes the task record and all per-task keys.
func (s *RedisStore) DeleteTask(ctx context.Context, taskID string) error {
	seriesIDs, err := s.client.SMembers(ctx, s.seriesIDsKey(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete task: list series ids: %w", err)
	}

	keys := []string{
		s.taskKey(taskID),
		s.eventsKey(taskID),
		s.idxKey(taskID),
		s.seriesIDsKey(taskID),
	}
	for _, seriesID := range seriesIDs {
		keys = append(keys, s.seriesKey(taskID, seriesID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// DeleteEvents rewrites the per-task log without the given event ids.
func (s *RedisStore) DeleteEvents(ctx context.Context, taskID string, eventIDs []string) error {
	drop := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		drop[id] = struct{}{}
	}

	raw, err := s.client.LRange(ctx, s.eventsKey(taskID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}

	kept := make([]any, 0, len(raw))
	for _, item := range raw {
		var event models.TaskEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		if _, gone := drop[event.ID]; !gone {
			kept = append(kept, item)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.eventsKey(taskID))
	if len(kept) > 0 {
		pipe.RPush(ctx, s.eventsKey(taskID), kept...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// ListTaskIDs scans the task-record namespace and returns the task ids.
func (s *RedisStore) ListTaskIDs(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:task:*", s.prefix)
	trim := fmt.Sprintf("%s:task:", s.prefix)

	var ids []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), trim))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return ids, nil
}
