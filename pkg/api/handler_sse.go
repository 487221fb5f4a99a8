package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/taskcast/taskcast/pkg/engine"
	"github.com/taskcast/taskcast/pkg/models"
)

// streamBuffer bounds how many live events a slow stream may lag behind
// before new ones are dropped.
const streamBuffer = 256

// StreamEvents handles GET /tasks/{id}/events: replay filtered history as
// SSE, then relay live events until the task reaches a terminal status or
// the client disconnects. The final message is always a single
// taskcast.done.
func (s *Server) StreamEvents(c *gin.Context) {
	taskID := c.Param("taskId")
	if !CheckScope(authFrom(c), models.ScopeEventSubscribe, taskID) {
		writeForbidden(c)
		return
	}

	task, err := s.engine.GetTask(c.Request.Context(), taskID)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if task == nil {
		writeNotFound(c)
		return
	}

	filter := parseStreamFilter(c)
	wrap := filter.Wrap == nil || *filter.Wrap

	history, err := s.engine.GetEvents(c.Request.Context(), taskID, nil)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	replayed := engine.ApplyFilteredIndex(history, filter)
	for _, fe := range replayed {
		s.sendEvent(c, fe.Event, fe.FilteredIndex, wrap)
	}

	if engine.IsTerminal(task.Status) {
		s.sendDone(c, string(task.Status))
		return
	}

	nextIndex := uint64(0)
	if len(replayed) > 0 {
		nextIndex = replayed[len(replayed)-1].FilteredIndex + 1
	}

	// Bridge the broadcast handler into a bounded queue owned by this
	// request; the handler never blocks a publisher.
	live := make(chan models.TaskEvent, streamBuffer)
	unsubscribe, err := s.engine.Subscribe(c.Request.Context(), taskID, func(event models.TaskEvent) {
		select {
		case live <- event:
		default:
		}
	})
	if err != nil {
		s.hooks.UnhandledError(taskID, err)
		return
	}
	defer unsubscribe()

	s.hooks.SSEConnect(taskID)
	defer s.hooks.SSEDisconnect(taskID)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-live:
			if engine.MatchesFilter(event, filter) {
				s.sendEvent(c, event, nextIndex, wrap)
				nextIndex++
			}

			// A terminal status closes the stream even when the filter
			// excludes status events, otherwise the stream would never end.
			if status, terminal := terminalStatusOf(event); terminal {
				s.sendDone(c, status)
				return
			}
		}
	}
}

func (s *Server) sendEvent(c *gin.Context, event models.TaskEvent, filteredIndex uint64, wrap bool) {
	var payload any = event
	if wrap {
		payload = models.SSEEnvelope{
			FilteredIndex: filteredIndex,
			RawIndex:      event.Index,
			EventID:       event.ID,
			TaskID:        event.TaskID,
			Type:          event.Type,
			Timestamp:     event.Timestamp,
			Level:         event.Level,
			Data:          event.Data,
			SeriesID:      event.SeriesID,
			SeriesMode:    event.SeriesMode,
		}
	}
	c.Render(-1, sse.Event{
		Id:    event.ID,
		Event: "taskcast.event",
		Data:  payload,
	})
	c.Writer.Flush()
}

func (s *Server) sendDone(c *gin.Context, reason string) {
	c.Render(-1, sse.Event{
		Event: "taskcast.done",
		Data:  map[string]any{"reason": reason},
	})
	c.Writer.Flush()
}

// terminalStatusOf inspects a status event's data for a terminal status.
// Live events may carry the status as a typed value (in-process broadcast)
// or as a plain string (decoded from a shared backend).
func terminalStatusOf(event models.TaskEvent) (string, bool) {
	if event.Type != models.StatusEventType {
		return "", false
	}
	data, ok := event.Data.(map[string]any)
	if !ok {
		return "", false
	}

	var status models.TaskStatus
	switch v := data["status"].(type) {
	case models.TaskStatus:
		status = v
	case string:
		status = models.TaskStatus(v)
	default:
		return "", false
	}

	if engine.IsTerminal(status) {
		return string(status), true
	}
	return "", false
}

// parseStreamFilter builds a SubscribeFilter from the stream query string.
// includeStatus and wrap treat the literal "false" as false and anything
// else as true.
func parseStreamFilter(c *gin.Context) *models.SubscribeFilter {
	filter := &models.SubscribeFilter{}

	if raw, ok := c.GetQuery("types"); ok {
		filter.Types = splitList(raw)
	}
	if raw, ok := c.GetQuery("levels"); ok {
		for _, level := range splitList(raw) {
			filter.Levels = append(filter.Levels, models.Level(level))
		}
	}
	if raw, ok := c.GetQuery("includeStatus"); ok {
		include := raw != "false"
		filter.IncludeStatus = &include
	}
	if raw, ok := c.GetQuery("wrap"); ok {
		wrap := raw != "false"
		filter.Wrap = &wrap
	}
	filter.Since = parseSinceQuery(c)

	return filter
}

// parseSinceQuery reads the since.id / since.index / since.timestamp query
// parameters; it returns nil when none are present.
func parseSinceQuery(c *gin.Context) *models.SinceCursor {
	var since models.SinceCursor
	found := false

	if id, ok := c.GetQuery("since.id"); ok && id != "" {
		since.ID = id
		found = true
	}
	if raw, ok := c.GetQuery("since.index"); ok {
		if idx, err := strconv.ParseUint(raw, 10, 64); err == nil {
			since.Index = &idx
			found = true
		}
	}
	if raw, ok := c.GetQuery("since.timestamp"); ok {
		if ts, err := strconv.ParseFloat(raw, 64); err == nil {
			since.Timestamp = &ts
			found = true
		}
	}

	if !found {
		return nil
	}
	return &since
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
