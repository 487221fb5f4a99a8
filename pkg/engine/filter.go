package engine

import (
	"strings"

	"github.com/taskcast/taskcast/pkg/models"
)

// MatchesType evaluates an event type against a pattern list. A nil list means
// no constraint; an empty list is an explicit empty whitelist and matches
// nothing. Patterns are "*", "prefix.*" (the trailing dot is required, so
// "llm.*" matches "llm.delta" but not "llm"), or an exact name.
func MatchesType(eventType string, patterns []string) bool {
	if patterns == nil {
		return true
	}
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
			continue
		}
		if pattern == eventType {
			return true
		}
	}
	return false
}

// MatchesFilter reports whether the event passes the subscribe filter.
// The includeStatus gate is checked first, then types, then levels.
func MatchesFilter(event models.TaskEvent, filter *models.SubscribeFilter) bool {
	if filter == nil {
		return true
	}
	if filter.IncludeStatus != nil && !*filter.IncludeStatus && event.Type == models.StatusEventType {
		return false
	}
	if filter.Types != nil && !MatchesType(event.Type, filter.Types) {
		return false
	}
	if filter.Levels != nil {
		found := false
		for _, level := range filter.Levels {
			if level == event.Level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ApplyFilteredIndex assigns consumer-local filtered indices over events in
// raw order. The counter advances on every filter match; when since.index is
// present, matches with filteredIndex ≤ since.index are counted but not
// emitted. since.id and since.timestamp operate at the raw level in history
// queries and play no part here.
func ApplyFilteredIndex(events []models.TaskEvent, filter *models.SubscribeFilter) []models.FilteredEvent {
	var cursor *uint64
	if filter != nil && filter.Since != nil {
		cursor = filter.Since.Index
	}

	out := make([]models.FilteredEvent, 0, len(events))
	counter := uint64(0)
	for _, event := range events {
		if !MatchesFilter(event, filter) {
			continue
		}
		filteredIndex := counter
		counter++
		if cursor != nil && filteredIndex <= *cursor {
			continue
		}
		out = append(out, models.FilteredEvent{
			FilteredIndex: filteredIndex,
			RawIndex:      event.Index,
			Event:         event,
		})
	}
	return out
}
