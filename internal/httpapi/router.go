package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/specforge/internal/common"
	"github.com/suPer8Hu/specforge/internal/httpapi/handlers"
	"github.com/suPer8Hu/specforge/internal/httpapi/middleware"
)

// NewRouter wires every route. corsOrigins lists the browser origins allowed
// to call the API; empty disables CORS handling.
func NewRouter(h *handlers.Handler, jwtSecret string, corsOrigins []string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(logger))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  corsOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"Content-Disposition", "X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))

	// Projects
	authGroup.POST("/projects", h.CreateProject)
	authGroup.GET("/projects", h.ListProjects)
	authGroup.GET("/projects/:project_id", h.GetProject)

	// Files
	authGroup.GET("/projects/:project_id/files", h.ListFiles)
	authGroup.GET("/projects/:project_id/files/content", h.FileContent)
	authGroup.POST("/projects/:project_id/files", h.CreateFile)
	authGroup.GET("/projects/:project_id/download", h.Download)

	// Chat
	authGroup.POST("/projects/:project_id/chat", h.SendChatMessage)
	authGroup.GET("/projects/:project_id/chat", h.GetChat)
	authGroup.DELETE("/projects/:project_id/chat", h.ClearChat)
	authGroup.GET("/projects/:project_id/runs/:run_id", h.GetRun)
	authGroup.GET("/projects/:project_id/events/stream", h.StreamEvents)

	// Preview VM
	authGroup.GET("/projects/:project_id/vm", h.GetVM)
	return r
}
