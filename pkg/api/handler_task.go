package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskcast/taskcast/pkg/models"
)

// CreateTask handles POST /tasks.
func (s *Server) CreateTask(c *gin.Context) {
	if !CheckScope(authFrom(c), models.ScopeTaskCreate, "") {
		writeForbidden(c)
		return
	}

	var body CreateTaskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBadRequest(c, err)
		return
	}

	task, err := s.engine.CreateTask(c.Request.Context(), models.CreateTaskInput{
		ID:         body.ID,
		Type:       body.Type,
		Params:     body.Params,
		Metadata:   body.Metadata,
		TTL:        body.TTL,
		AuthConfig: body.AuthConfig,
		Webhooks:   body.Webhooks,
		Cleanup:    body.Cleanup,
	})
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// GetTask handles GET /tasks/{id}.
func (s *Server) GetTask(c *gin.Context) {
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

	c.JSON(http.StatusOK, task)
}

// TransitionTask handles PATCH /tasks/{id}/status.
func (s *Server) TransitionTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if !CheckScope(authFrom(c), models.ScopeTaskManage, taskID) {
		writeForbidden(c)
		return
	}

	var body TransitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBadRequest(c, err)
		return
	}

	var payload *models.TransitionPayload
	if body.Result != nil || body.Error != nil {
		payload = &models.TransitionPayload{
			Result: body.Result,
			Error:  body.Error,
		}
	}

	task, err := s.engine.TransitionTask(c.Request.Context(), taskID, body.Status, payload)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// PublishEvents handles POST /tasks/{id}/events. A JSON array publishes a
// batch and the response mirrors the input shape.
func (s *Server) PublishEvents(c *gin.Context) {
	taskID := c.Param("taskId")
	if !CheckScope(authFrom(c), models.ScopeEventPublish, taskID) {
		writeForbidden(c)
		return
	}

	bodies, batch, err := decodePublishBody(c.Request.Body)
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	events := make([]models.TaskEvent, 0, len(bodies))
	for _, body := range bodies {
		event, err := s.engine.PublishEvent(c.Request.Context(), taskID, body.toInput())
		if err != nil {
			writeEngineError(c, err)
			return
		}
		events = append(events, event)
	}

	if batch {
		c.JSON(http.StatusCreated, events)
		return
	}
	c.JSON(http.StatusCreated, events[0])
}

// GetEventHistory handles GET /tasks/{id}/events/history.
func (s *Server) GetEventHistory(c *gin.Context) {
	taskID := c.Param("taskId")
	if !CheckScope(authFrom(c), models.ScopeEventHistory, taskID) {
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

	var opts *models.EventQueryOptions
	if since := parseSinceQuery(c); since != nil {
		opts = &models.EventQueryOptions{Since: since}
	}

	events, err := s.engine.GetEvents(c.Request.Context(), taskID, opts)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}
