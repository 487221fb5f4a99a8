package models

// StatusEventType is the reserved event type emitted on every status transition.
const StatusEventType = "taskcast:status"

// TaskEvent is an append-only record on a task's timeline. Index is per-task
// monotonic and dense starting at 0; Timestamp is milliseconds since the epoch.
type TaskEvent struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	Index      uint64     `json:"index"`
	Timestamp  float64    `json:"timestamp"`
	Type       string     `json:"type"`
	Level      Level      `json:"level"`
	Data       any        `json:"data"`
	SeriesID   string     `json:"seriesId,omitempty"`
	SeriesMode SeriesMode `json:"seriesMode,omitempty"`
}

// PublishEventInput carries the caller-supplied fields for PublishEvent.
type PublishEventInput struct {
	Type       string
	Level      Level
	Data       any
	SeriesID   string
	SeriesMode SeriesMode
}

// SinceCursor selects events after a known point. Priority when several fields
// are set: ID > Index > Timestamp.
type SinceCursor struct {
	ID        string   `json:"id,omitempty"`
	Index     *uint64  `json:"index,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// EventQueryOptions narrows a history read.
type EventQueryOptions struct {
	Since *SinceCursor
	Limit *int
}

// SubscribeFilter selects which events a consumer observes. Nil slices mean
// "no constraint"; an empty Types slice is an explicit empty whitelist.
type SubscribeFilter struct {
	Types         []string     `json:"types,omitempty"`
	Levels        []Level      `json:"levels,omitempty"`
	IncludeStatus *bool        `json:"includeStatus,omitempty"`
	Wrap          *bool        `json:"wrap,omitempty"`
	Since         *SinceCursor `json:"since,omitempty"`
}

// FilteredEvent pairs an event with the consumer-local filtered index.
type FilteredEvent struct {
	FilteredIndex uint64
	RawIndex      uint64
	Event         TaskEvent
}

// SSEEnvelope is the wire shape for streamed events when wrap is enabled.
type SSEEnvelope struct {
	FilteredIndex uint64     `json:"filteredIndex"`
	RawIndex      uint64     `json:"rawIndex"`
	EventID       string     `json:"eventId"`
	TaskID        string     `json:"taskId"`
	Type          string     `json:"type"`
	Timestamp     float64    `json:"timestamp"`
	Level         Level      `json:"level"`
	Data          any        `json:"data"`
	SeriesID      string     `json:"seriesId,omitempty"`
	SeriesMode    SeriesMode `json:"seriesMode,omitempty"`
}
