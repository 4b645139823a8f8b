package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/specforge/internal/common"
)

type createProjectReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateProject(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req createProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p, err := h.Coord.CreateProject(c.Request.Context(), uid, req.Name)
	if err != nil {
		h.writeErr(c, "create project", err)
		return
	}
	common.OK(c, p)
}

func (h *Handler) ListProjects(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	list, err := h.Projects.List(c.Request.Context(), uid)
	if err != nil {
		h.writeErr(c, "list projects", err)
		return
	}
	common.OK(c, gin.H{"projects": list})
}

func (h *Handler) GetProject(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	p, err := h.Projects.Get(c.Request.Context(), uid, c.Param("project_id"))
	if err != nil {
		h.writeErr(c, "get project", err)
		return
	}
	common.OK(c, p)
}

func (h *Handler) ListFiles(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Projects.Files(c.Request.Context(), uid, c.Param("project_id"))
	if err != nil {
		h.writeErr(c, "list files", err)
		return
	}
	common.OK(c, view)
}

func (h *Handler) FileContent(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if path == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "path required")
		return
	}
	content, err := h.Projects.FileContent(c.Request.Context(), uid, c.Param("project_id"), path)
	if err != nil {
		h.writeErr(c, "file content", err)
		return
	}
	common.OK(c, gin.H{"path": path, "content": content})
}

type createFileReq struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

func (h *Handler) CreateFile(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req createFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	path := strings.TrimSpace(req.Path)
	if err := h.Projects.CreateFile(c.Request.Context(), uid, c.Param("project_id"), path, req.Content); err != nil {
		h.writeErr(c, "create file", err)
		return
	}
	common.OK(c, gin.H{"path": path})
}

// Download builds the archive in memory so a failure can still be reported
// as JSON.
func (h *Handler) Download(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id := c.Param("project_id")
	var buf bytes.Buffer
	if err := h.Projects.WriteZip(c.Request.Context(), uid, id, &buf); err != nil {
		h.writeErr(c, "download", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="project-%s.zip"`, id))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

func (h *Handler) GetVM(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Projects.VM(c.Request.Context(), uid, c.Param("project_id"))
	if err != nil {
		h.writeErr(c, "vm status", err)
		return
	}
	common.OK(c, view)
}
