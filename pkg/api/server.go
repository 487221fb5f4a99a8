// Package api exposes the task engine over HTTP: task CRUD, event
// publishing, history reads, and the SSE streaming endpoint.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskcast/taskcast/pkg/database"
	"github.com/taskcast/taskcast/pkg/engine"
)

// Server is the HTTP adapter over the task engine.
type Server struct {
	engine *engine.Engine
	auth   *Authorizer
	hooks  *engine.Hooks
	db     *sql.DB
	router *gin.Engine
}

// Option customizes the server.
type Option func(*Server)

// WithDatabase enables database checks on the health endpoint.
func WithDatabase(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithHooks wires lifecycle hooks for stream connect/disconnect events.
func WithHooks(hooks *engine.Hooks) Option {
	return func(s *Server) { s.hooks = hooks }
}

// NewServer creates the API server and mounts all routes.
func NewServer(eng *engine.Engine, auth *Authorizer, opts ...Option) *Server {
	if auth == nil {
		auth = NewNoneAuthorizer()
	}
	s := &Server{
		engine: eng,
		auth:   auth,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Health)

	tasks := router.Group("/tasks", s.auth.Middleware())
	tasks.POST("", s.CreateTask)
	tasks.GET("/:taskId", s.GetTask)
	tasks.PATCH("/:taskId/status", s.TransitionTask)
	tasks.POST("/:taskId/events", s.PublishEvents)
	tasks.GET("/:taskId/events", s.StreamEvents)
	tasks.GET("/:taskId/events/history", s.GetEventHistory)

	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health returns the service health, including the long-term database when
// one is configured.
func (s *Server) Health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}
