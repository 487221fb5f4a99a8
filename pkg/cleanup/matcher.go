// Package cleanup provides retention rule matching and the background
// cleanup service.
package cleanup

import (
	"github.com/taskcast/taskcast/pkg/engine"
	"github.com/taskcast/taskcast/pkg/models"
)

// MatchesRule reports whether the task matches a retention rule at time now
// (milliseconds). Only terminal tasks ever match; the age trigger measures
// from completedAt, falling back to updatedAt.
func MatchesRule(task models.Task, rule models.CleanupRule, now float64) bool {
	if !engine.IsTerminal(task.Status) {
		return false
	}

	if rule.Match != nil {
		if rule.Match.Status != nil {
			found := false
			for _, status := range rule.Match.Status {
				if status == task.Status {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if rule.Match.TaskTypes != nil {
			// a task without a type never matches a task-types rule
			if task.Type == "" || !engine.MatchesType(task.Type, rule.Match.TaskTypes) {
				return false
			}
		}
	}

	if rule.Trigger.AfterMs != nil {
		reference := task.UpdatedAt
		if task.CompletedAt != nil {
			reference = *task.CompletedAt
		}
		if now-reference < float64(*rule.Trigger.AfterMs) {
			return false
		}
	}

	return true
}

// FilterEvents returns the events the rule selects for deletion. Without an
// event filter every event matches. With one, an event matches only if every
// specified sub-filter accepts it. The olderThanMs check is relative to
// completedAt and is skipped when completedAt is nil.
func FilterEvents(events []models.TaskEvent, rule models.CleanupRule, completedAt *float64) []models.TaskEvent {
	if rule.EventFilter == nil {
		return events
	}
	filter := rule.EventFilter

	matched := make([]models.TaskEvent, 0, len(events))
	for _, event := range events {
		if filter.Types != nil && !engine.MatchesType(event.Type, filter.Types) {
			continue
		}
		if filter.Levels != nil && !containsLevel(filter.Levels, event.Level) {
			continue
		}
		if filter.SeriesMode != nil {
			// events without a series mode are never selected by a mode filter
			if event.SeriesMode == "" || !containsMode(filter.SeriesMode, event.SeriesMode) {
				continue
			}
		}
		if filter.OlderThanMs != nil && completedAt != nil {
			cutoff := *completedAt - float64(*filter.OlderThanMs)
			if event.Timestamp >= cutoff {
				continue
			}
		}
		matched = append(matched, event)
	}
	return matched
}

func containsLevel(levels []models.Level, level models.Level) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func containsMode(modes []models.SeriesMode, mode models.SeriesMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
