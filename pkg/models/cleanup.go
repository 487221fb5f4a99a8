package models

// CleanupTarget selects what a matching rule removes.
type CleanupTarget string

const (
	CleanupTargetAll    CleanupTarget = "all"
	CleanupTargetEvents CleanupTarget = "events"
)

// CleanupTrigger gates a rule on elapsed time since task completion.
type CleanupTrigger struct {
	AfterMs *int64 `json:"afterMs,omitempty"`
}

// CleanupRuleMatch narrows which tasks a rule applies to.
type CleanupRuleMatch struct {
	Status    []TaskStatus `json:"status,omitempty"`
	TaskTypes []string     `json:"taskTypes,omitempty"`
}

// CleanupEventFilter narrows which events a rule removes. An event is kept for
// cleanup only when every specified sub-filter accepts it.
type CleanupEventFilter struct {
	Types       []string     `json:"types,omitempty"`
	Levels      []Level      `json:"levels,omitempty"`
	OlderThanMs *int64       `json:"olderThanMs,omitempty"`
	SeriesMode  []SeriesMode `json:"seriesMode,omitempty"`
}

// CleanupRule describes one retention rule.
type CleanupRule struct {
	Name        string              `json:"name,omitempty"`
	Match       *CleanupRuleMatch   `json:"match,omitempty"`
	Trigger     CleanupTrigger      `json:"trigger"`
	Target      CleanupTarget       `json:"target"`
	EventFilter *CleanupEventFilter `json:"eventFilter,omitempty"`
}

// CleanupConfig is the per-task set of retention rules.
type CleanupConfig struct {
	Rules []CleanupRule `json:"rules"`
}
