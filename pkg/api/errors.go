package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskcast/taskcast/pkg/engine"
)

// writeEngineError maps an engine error to the HTTP error body
// {"error": "<message>"} with the matching status code.
func writeEngineError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	var invalid *engine.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
		return
	}

	var terminal *engine.TaskTerminalError
	if errors.As(err, &terminal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": terminal.Error()})
		return
	}

	slog.Error("Unexpected engine error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func writeForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
}

func writeNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
}

func writeBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
