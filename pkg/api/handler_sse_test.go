package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcast/taskcast/pkg/engine"
	"github.com/taskcast/taskcast/pkg/models"
)

// sseMessage is one parsed server-sent event.
type sseMessage struct {
	Event string
	ID    string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseMessage {
	t.Helper()
	var messages []sseMessage
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var msg sseMessage
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event:"):
				msg.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "id:"):
				msg.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			case strings.HasPrefix(line, "data:"):
				msg.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		messages = append(messages, msg)
	}
	return messages
}

func seedCompletedTask(t *testing.T, s *Server) {
	t.Helper()
	doRequest(t, s, http.MethodPost, "/tasks", map[string]any{"id": "t4"}, "")
	doRequest(t, s, http.MethodPatch, "/tasks/t4/status", map[string]any{"status": "running"}, "")
	rec := doRequest(t, s, http.MethodPost, "/tasks/t4/events", []map[string]any{
		{"type": "progress", "level": "info", "data": map[string]any{"p": 1}},
		{"type": "log", "level": "debug", "data": "d"},
		{"type": "progress", "level": "info", "data": map[string]any{"p": 2}},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, s, http.MethodPatch, "/tasks/t4/status", map[string]any{"status": "completed"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamFilteredReplayOfTerminalTask(t *testing.T) {
	s := newTestServer(t, nil)
	seedCompletedTask(t, s)

	rec := doRequest(t, s, http.MethodGet, "/tasks/t4/events?types=progress&wrap=false", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	messages := parseSSE(t, rec.Body.String())
	require.Len(t, messages, 3)

	for i, msg := range messages[:2] {
		assert.Equal(t, "taskcast.event", msg.Event, "message %d", i)
		var event models.TaskEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Data), &event))
		assert.Equal(t, "progress", event.Type)
		assert.Equal(t, event.ID, msg.ID)
	}

	done := messages[2]
	assert.Equal(t, "taskcast.done", done.Event)
	assert.JSONEq(t, `{"reason": "completed"}`, done.Data)
}

func TestStreamWrapsInEnvelopeByDefault(t *testing.T) {
	s := newTestServer(t, nil)
	seedCompletedTask(t, s)

	rec := doRequest(t, s, http.MethodGet, "/tasks/t4/events?types=progress", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	messages := parseSSE(t, rec.Body.String())
	require.Len(t, messages, 3)

	var first models.SSEEnvelope
	require.NoError(t, json.Unmarshal([]byte(messages[0].Data), &first))
	assert.Equal(t, uint64(0), first.FilteredIndex)
	assert.Equal(t, "t4", first.TaskID)
	assert.Equal(t, "progress", first.Type)

	var second models.SSEEnvelope
	require.NoError(t, json.Unmarshal([]byte(messages[1].Data), &second))
	assert.Equal(t, uint64(1), second.FilteredIndex)
	assert.Greater(t, second.RawIndex, first.RawIndex)
}

func TestStreamExcludesStatusEventsWhenAsked(t *testing.T) {
	s := newTestServer(t, nil)
	seedCompletedTask(t, s)

	rec := doRequest(t, s, http.MethodGet, "/tasks/t4/events?includeStatus=false", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	messages := parseSSE(t, rec.Body.String())
	// 3 data events plus done; the two status events are filtered out
	require.Len(t, messages, 4)
	for _, msg := range messages[:3] {
		var env models.SSEEnvelope
		require.NoError(t, json.Unmarshal([]byte(msg.Data), &env))
		assert.NotEqual(t, models.StatusEventType, env.Type)
	}
	assert.Equal(t, "taskcast.done", messages[3].Event)
}

func TestStreamUnknownTaskReturns404(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/tasks/nope/events", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", decodeBody(t, rec)["error"])
}

// TestStreamReplayThenLiveJoin drives a live stream over a real connection:
// history is replayed first, then live events continue the filtered index
// sequence, and the terminal status closes the stream with taskcast.done.
func TestStreamReplayThenLiveJoin(t *testing.T) {
	s := newTestServer(t, nil)

	// the connect hook tells us when the stream has attached to broadcast,
	// so live publishes below cannot race the subscription
	subscribed := make(chan struct{})
	s.hooks = &engine.Hooks{
		OnSSEConnect: func(string) { close(subscribed) },
	}

	doRequest(t, s, http.MethodPost, "/tasks", map[string]any{"id": "t9"}, "")
	doRequest(t, s, http.MethodPatch, "/tasks/t9/status", map[string]any{"status": "running"}, "")
	rec := doRequest(t, s, http.MethodPost, "/tasks/t9/events", []map[string]any{
		{"type": "progress", "level": "info", "data": map[string]any{"p": 1}},
		{"type": "progress", "level": "info", "data": map[string]any{"p": 2}},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tasks/t9/events?types=progress&includeStatus=false")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	type streamResult struct {
		messages []sseMessage
		err      error
	}
	results := make(chan streamResult, 1)
	replayed := make(chan struct{})

	go func() {
		var messages []sseMessage
		var block strings.Builder
		signalled := false
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				block.WriteString(line)
				block.WriteString("\n")
				continue
			}
			if block.Len() == 0 {
				continue
			}
			messages = append(messages, parseSSE(t, block.String())...)
			block.Reset()
			if !signalled && len(messages) == 2 {
				signalled = true
				close(replayed)
			}
		}
		results <- streamResult{messages: messages, err: scanner.Err()}
	}()

	select {
	case <-replayed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for history replay")
	}
	select {
	case <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for live subscription")
	}

	rec = doRequest(t, s, http.MethodPost, "/tasks/t9/events", map[string]any{
		"type": "progress", "level": "info", "data": map[string]any{"p": 3},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, s, http.MethodPatch, "/tasks/t9/status", map[string]any{"status": "completed"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result streamResult
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream to close")
	}
	require.NoError(t, result.err)

	require.Len(t, result.messages, 4)
	for i, msg := range result.messages[:3] {
		assert.Equal(t, "taskcast.event", msg.Event)
		var env models.SSEEnvelope
		require.NoError(t, json.Unmarshal([]byte(msg.Data), &env))
		assert.Equal(t, uint64(i), env.FilteredIndex, "filtered indices are contiguous across the join")
		assert.Equal(t, "progress", env.Type)
	}
	assert.Equal(t, "taskcast.done", result.messages[3].Event)
	assert.JSONEq(t, `{"reason": "completed"}`, result.messages[3].Data)
}
