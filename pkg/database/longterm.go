package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/taskcast/taskcast/pkg/models"
)

// DefaultTablePrefix names the archive tables when no prefix is configured.
const DefaultTablePrefix = "taskcast"

// LongTermStore is the PostgreSQL archive for tasks and events. Task writes
// upsert the mutable subset of columns; event writes are insert-or-ignore on
// the event id, so retries and concurrent engines stay idempotent.
type LongTermStore struct {
	db          *sql.DB
	tasksTable  string
	eventsTable string
}

// LongTermOption configures a LongTermStore.
type LongTermOption func(*LongTermStore)

// WithTablePrefix overrides the table name prefix.
func WithTablePrefix(prefix string) LongTermOption {
	return func(s *LongTermStore) {
		s.setPrefix(prefix)
	}
}

// NewLongTermStore creates a store on an existing connection pool. The prefix
// falls back to the TASKCAST_PG_PREFIX env var, then to "taskcast".
func NewLongTermStore(db *sql.DB, opts ...LongTermOption) *LongTermStore {
	s := &LongTermStore{db: db}
	prefix := os.Getenv("TASKCAST_PG_PREFIX")
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	s.setPrefix(prefix)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LongTermStore) setPrefix(prefix string) {
	s.tasksTable = prefix + "_tasks"
	s.eventsTable = prefix + "_events"
}

// SaveTask upserts the task. Immutable columns (id, type, params, configs,
// created_at, ttl) are written on insert only; the conflict update covers the
// mutable subset.
func (s *LongTermStore) SaveTask(ctx context.Context, task models.Task) error {
	paramsJSON, err := marshalNullable(task.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	resultJSON, err := marshalNullable(task.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	errorJSON, err := marshalNullable(task.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	metadataJSON, err := marshalNullable(task.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	authConfigJSON, err := marshalNullable(task.AuthConfig)
	if err != nil {
		return fmt.Errorf("marshal auth config: %w", err)
	}
	webhooksJSON, err := marshalNullable(task.Webhooks)
	if err != nil {
		return fmt.Errorf("marshal webhooks: %w", err)
	}
	cleanupJSON, err := marshalNullable(task.Cleanup)
	if err != nil {
		return fmt.Errorf("marshal cleanup: %w", err)
	}

	var completedAt sql.NullInt64
	if task.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: int64(*task.CompletedAt), Valid: true}
	}
	var ttl sql.NullInt32
	if task.TTL != nil {
		ttl = sql.NullInt32{Int32: int32(*task.TTL), Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, type, status, params, result, error, metadata,
			auth_config, webhooks, cleanup, created_at, updated_at, completed_at, ttl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`, s.tasksTable)

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		nullString(task.Type),
		string(task.Status),
		paramsJSON,
		resultJSON,
		errorJSON,
		metadataJSON,
		authConfigJSON,
		webhooksJSON,
		cleanupJSON,
		int64(task.CreatedAt),
		int64(task.UpdatedAt),
		completedAt,
		ttl,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask returns (nil, nil) when the task does not exist.
func (s *LongTermStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := fmt.Sprintf(`
		SELECT id, type, status, params, result, error, metadata,
		       auth_config, webhooks, cleanup, created_at, updated_at, completed_at, ttl
		FROM %s WHERE id = $1`, s.tasksTable)

	row := s.db.QueryRowContext(ctx, query, taskID)

	var (
		task       models.Task
		taskType   sql.NullString
		status     string
		paramsJSON, resultJSON, errorJSON, metadataJSON []byte
		authConfigJSON, webhooksJSON, cleanupJSON       []byte
		createdAt, updatedAt                            int64
		completedAt                                     sql.NullInt64
		ttl                                             sql.NullInt32
	)
	err := row.Scan(&task.ID, &taskType, &status,
		&paramsJSON, &resultJSON, &errorJSON, &metadataJSON,
		&authConfigJSON, &webhooksJSON, &cleanupJSON,
		&createdAt, &updatedAt, &completedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	task.Type = taskType.String
	task.Status = models.TaskStatus(status)
	task.CreatedAt = float64(createdAt)
	task.UpdatedAt = float64(updatedAt)
	if completedAt.Valid {
		v := float64(completedAt.Int64)
		task.CompletedAt = &v
	}
	if ttl.Valid {
		v := int(ttl.Int32)
		task.TTL = &v
	}
	if err := unmarshalNullable(paramsJSON, &task.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := unmarshalNullable(resultJSON, &task.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if err := unmarshalNullable(errorJSON, &task.Error); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	if err := unmarshalNullable(metadataJSON, &task.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := unmarshalNullable(authConfigJSON, &task.AuthConfig); err != nil {
		return nil, fmt.Errorf("unmarshal auth config: %w", err)
	}
	if err := unmarshalNullable(webhooksJSON, &task.Webhooks); err != nil {
		return nil, fmt.Errorf("unmarshal webhooks: %w", err)
	}
	if err := unmarshalNullable(cleanupJSON, &task.Cleanup); err != nil {
		return nil, fmt.Errorf("unmarshal cleanup: %w", err)
	}

	return &task, nil
}

// SaveEvent archives the event; a duplicate id is a no-op.
func (s *LongTermStore) SaveEvent(ctx context.Context, event models.TaskEvent) error {
	dataJSON, err := marshalNullable(event.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, task_id, idx, timestamp, type, level, data, series_id, series_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`, s.eventsTable)

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.TaskID,
		int32(event.Index),
		int64(event.Timestamp),
		event.Type,
		string(event.Level),
		dataJSON,
		nullString(event.SeriesID),
		nullString(string(event.SeriesMode)),
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// GetEvents returns archived events in index order. Cursor precedence is
// id > index > timestamp; a since.id with no matching event resolves to the
// full log (anchor index -1).
func (s *LongTermStore) GetEvents(ctx context.Context, taskID string, opts *models.EventQueryOptions) ([]models.TaskEvent, error) {
	limitClause := ""
	if opts != nil && opts.Limit != nil {
		limitClause = fmt.Sprintf(" LIMIT %d", *opts.Limit)
	}

	base := fmt.Sprintf(`
		SELECT id, task_id, idx, timestamp, type, level, data, series_id, series_mode
		FROM %s WHERE task_id = $1`, s.eventsTable)

	var (
		rows *sql.Rows
		err  error
	)
	since := (*models.SinceCursor)(nil)
	if opts != nil {
		since = opts.Since
	}
	switch {
	case since != nil && since.ID != "":
		anchorIdx := int32(-1)
		anchorQuery := fmt.Sprintf("SELECT idx FROM %s WHERE id = $1", s.eventsTable)
		if err := s.db.QueryRowContext(ctx, anchorQuery, since.ID).Scan(&anchorIdx); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		rows, err = s.db.QueryContext(ctx, base+" AND idx > $2 ORDER BY idx ASC"+limitClause, taskID, anchorIdx)
	case since != nil && since.Index != nil:
		rows, err = s.db.QueryContext(ctx, base+" AND idx > $2 ORDER BY idx ASC"+limitClause, taskID, int32(*since.Index))
	case since != nil && since.Timestamp != nil:
		rows, err = s.db.QueryContext(ctx, base+" AND timestamp > $2 ORDER BY idx ASC"+limitClause, taskID, int64(*since.Timestamp))
	default:
		rows, err = s.db.QueryContext(ctx, base+" ORDER BY idx ASC"+limitClause, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []models.TaskEvent
	for rows.Next() {
		var (
			event      models.TaskEvent
			idx        int32
			timestamp  int64
			level      string
			dataJSON   []byte
			seriesID   sql.NullString
			seriesMode sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.TaskID, &idx, &timestamp,
			&event.Type, &level, &dataJSON, &seriesID, &seriesMode); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Index = uint64(idx)
		event.Timestamp = float64(timestamp)
		event.Level = models.Level(level)
		event.SeriesID = seriesID.String
		event.SeriesMode = models.SeriesMode(seriesMode.String)
		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
				return nil, fmt.Errorf("unmarshal data: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return events, nil
}

// marshalNullable returns nil for nil values so the column stores SQL NULL
// instead of the JSON literal null.
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch typed := v.(type) {
	case map[string]any:
		if typed == nil {
			return nil, nil
		}
	case []models.WebhookConfig:
		if typed == nil {
			return nil, nil
		}
	case *models.TaskError:
		if typed == nil {
			return nil, nil
		}
	case *models.TaskAuthConfig:
		if typed == nil {
			return nil, nil
		}
	case *models.CleanupConfig:
		if typed == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
