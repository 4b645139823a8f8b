package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/common"
	"github.com/suPer8Hu/specforge/internal/coordinator"
	"github.com/suPer8Hu/specforge/internal/events"
	"github.com/suPer8Hu/specforge/internal/httpapi/middleware"
	"github.com/suPer8Hu/specforge/internal/project"
	"github.com/suPer8Hu/specforge/internal/vfs"
)

// EventSource streams a project's timeline events as they are emitted.
type EventSource interface {
	Subscribe(ctx context.Context, projectID string) (<-chan events.ChatEvent, func() error, error)
}

type Handler struct {
	Projects *project.Service
	Coord    *coordinator.Coordinator
	Events   EventSource // nil falls back to polling the project record
	Logger   *zap.Logger
}

func NewHandler(projects *project.Service, coord *coordinator.Coordinator, src EventSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Projects: projects, Coord: coord, Events: src, Logger: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// requireUser writes 401 and returns false when the request has no user.
func requireUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

// writeErr maps domain errors onto the response envelope.
func (h *Handler) writeErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, project.ErrProjectNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "project not found")
	case errors.Is(err, project.ErrRunNotFound):
		common.Fail(c, http.StatusNotFound, 40005, "run not found")
	case errors.Is(err, project.ErrFileNotFound):
		common.Fail(c, http.StatusNotFound, 40006, "file not found")
	case errors.Is(err, project.ErrAlreadyProcessing):
		common.Fail(c, http.StatusConflict, 40901, "project is already processing a message")
	case errors.Is(err, project.ErrFileExists):
		common.Fail(c, http.StatusConflict, 40902, "file already exists")
	case errors.Is(err, project.ErrInvalidName):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, project.ErrInvalidPath):
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
	case errors.Is(err, vfs.ErrInvalidVFS):
		h.Logger.Error(op, zap.String("project_id", c.Param("project_id")), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "invalid project data")
	default:
		h.Logger.Error(op, zap.String("project_id", c.Param("project_id")), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
