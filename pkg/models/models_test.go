package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskJSONOmitsUnsetOptionals(t *testing.T) {
	task := Task{
		ID:        "task_01",
		Status:    StatusPending,
		CreatedAt: 1700000000000,
		UpdatedAt: 1700000000000,
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, "task_01", m["id"])
	assert.Equal(t, "pending", m["status"])
	for _, absent := range []string{"type", "params", "result", "error", "metadata", "completedAt", "ttl", "authConfig", "webhooks", "cleanup"} {
		assert.NotContains(t, m, absent)
	}
}

func TestTaskEventFieldNames(t *testing.T) {
	ev := TaskEvent{
		ID:         "evt_01",
		TaskID:     "task_01",
		Index:      3,
		Timestamp:  1700000000000,
		Type:       "llm.delta",
		Level:      LevelInfo,
		Data:       map[string]any{"text": "hi"},
		SeriesID:   "s1",
		SeriesMode: SeriesAccumulate,
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, "task_01", m["taskId"])
	assert.Equal(t, float64(3), m["index"])
	assert.Equal(t, "s1", m["seriesId"])
	assert.Equal(t, "accumulate", m["seriesMode"])
}

func TestTaskEventOmitsSeriesFieldsWhenUnset(t *testing.T) {
	ev := TaskEvent{ID: "evt_01", TaskID: "task_01", Type: "log", Level: LevelDebug, Data: "d"}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "seriesId")
	assert.NotContains(t, m, "seriesMode")
	// data is always present, even for scalar payloads
	assert.Equal(t, "d", m["data"])
}

func TestSeriesModeKebabCase(t *testing.T) {
	data, err := json.Marshal(SeriesKeepAll)
	require.NoError(t, err)
	assert.Equal(t, `"keep-all"`, string(data))

	var mode SeriesMode
	require.NoError(t, json.Unmarshal([]byte(`"latest"`), &mode))
	assert.Equal(t, SeriesLatest, mode)
}

func TestSinceCursorIndexZeroSurvivesRoundtrip(t *testing.T) {
	var c SinceCursor
	require.NoError(t, json.Unmarshal([]byte(`{"index":0}`), &c))
	require.NotNil(t, c.Index)
	assert.Equal(t, uint64(0), *c.Index)
	assert.Empty(t, c.ID)
	assert.Nil(t, c.Timestamp)
}

func TestSSEEnvelopeFieldNames(t *testing.T) {
	env := SSEEnvelope{
		FilteredIndex: 1,
		RawIndex:      4,
		EventID:       "evt_05",
		TaskID:        "task_01",
		Type:          "progress",
		Timestamp:     1700000000000,
		Level:         LevelInfo,
		Data:          map[string]any{"percent": 50},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, float64(1), m["filteredIndex"])
	assert.Equal(t, float64(4), m["rawIndex"])
	assert.Equal(t, "evt_05", m["eventId"])
	assert.NotContains(t, m, "seriesId")
}

func TestTaskAuthConfigScopeStrings(t *testing.T) {
	cfg := TaskAuthConfig{
		Rules: []TaskAuthRule{{
			Match:   TaskAuthRuleMatch{Scope: []PermissionScope{ScopeTaskCreate, ScopeAll}},
			Require: TaskAuthRuleRequire{Sub: []string{"user-abc"}},
		}},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	rule := m["rules"].([]any)[0].(map[string]any)
	scopes := rule["match"].(map[string]any)["scope"].([]any)
	assert.Equal(t, "task:create", scopes[0])
	assert.Equal(t, "*", scopes[1])
}

func TestStatusValidation(t *testing.T) {
	assert.True(t, StatusRunning.Valid())
	assert.True(t, StatusTimeout.Valid())
	assert.False(t, TaskStatus("paused").Valid())
	assert.True(t, LevelWarn.Valid())
	assert.False(t, Level("trace").Valid())
}
