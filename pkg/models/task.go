package models

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusTimeout   TaskStatus = "timeout"
	StatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Level is the severity attached to an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// SeriesMode controls compaction of events sharing a seriesId.
type SeriesMode string

const (
	SeriesKeepAll    SeriesMode = "keep-all"
	SeriesAccumulate SeriesMode = "accumulate"
	SeriesLatest     SeriesMode = "latest"
)

// TaskError is the structured error recorded on a failed task.
type TaskError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Task is a stateful unit of work with an event timeline attached.
// Timestamps are milliseconds since the Unix epoch.
type Task struct {
	ID          string           `json:"id"`
	Type        string           `json:"type,omitempty"`
	Status      TaskStatus       `json:"status"`
	Params      map[string]any   `json:"params,omitempty"`
	Result      map[string]any   `json:"result,omitempty"`
	Error       *TaskError       `json:"error,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   float64          `json:"createdAt"`
	UpdatedAt   float64          `json:"updatedAt"`
	CompletedAt *float64         `json:"completedAt,omitempty"`
	TTL         *int             `json:"ttl,omitempty"`
	AuthConfig  *TaskAuthConfig  `json:"authConfig,omitempty"`
	Webhooks    []WebhookConfig  `json:"webhooks,omitempty"`
	Cleanup     *CleanupConfig   `json:"cleanup,omitempty"`
}

// CreateTaskInput carries the caller-supplied fields for CreateTask.
type CreateTaskInput struct {
	ID         string
	Type       string
	Params     map[string]any
	Metadata   map[string]any
	TTL        *int
	AuthConfig *TaskAuthConfig
	Webhooks   []WebhookConfig
	Cleanup    *CleanupConfig
}

// TransitionPayload optionally attaches a result or error to a status transition.
type TransitionPayload struct {
	Result map[string]any
	Error  *TaskError
}
