package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elmoiv/Maan/internal/session"
	"github.com/elmoiv/Maan/internal/workspace"
)

func mtimeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ListFiles returns the workspace tree, optionally rooted at a subpath. An
// unsafe subpath falls back to the workspace root.
func (h *Handler) ListFiles(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}

	rel := c.Query("path")
	if rel != "" {
		if err := h.WS.CheckPath(project.WorkspacePath, rel); err != nil {
			rel = ""
		}
	}

	tree, err := h.WS.Tree(project.WorkspacePath, rel)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := project.Name
	if rel != "" {
		name = filepath.Base(rel)
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "children": tree})
}

func (h *Handler) FileContent(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}

	rel := c.Query("path")
	if rel == "" || h.WS.CheckPath(project.WorkspacePath, rel) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
		return
	}

	content, mtime, err := h.WS.ReadFile(project.WorkspacePath, rel)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content, "mtime": mtimeSeconds(mtime)})
}

// SaveFile commits directly for the session admin, broadcasting the new
// content to the room; anyone else is routed into the write-approval
// workflow and gets a pending status back.
func (h *Handler) SaveFile(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}

	var req struct {
		Path     string                 `json:"path" binding:"required"`
		Content  string                 `json:"content"`
		UserInfo session.UserDescriptor `json:"user_info"`
		ConnID   string                 `json:"conn_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.isProjectAdmin(c, project) {
		mtime, err := h.WS.WriteFile(c.Request.Context(), project.WorkspacePath, req.Path, req.Content)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, workspace.ErrInvalidPath) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		h.Core.FileSaved(project.SessionKey, req.Path, req.Content, mtime, req.UserInfo)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}

	approvalID, err := h.Core.RequestWrite(project.SessionKey, req.ConnID, req.Path, req.Content, req.UserInfo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending_approval", "approval_id": approvalID})
}

func (h *Handler) CreateFile(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}
	if !h.isProjectAdmin(c, project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only admin can create files"})
		return
	}

	var req struct {
		Path  string `json:"path" binding:"required"`
		IsDir bool   `json:"is_dir"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.WS.CreateEntry(project.WorkspacePath, req.Path, req.IsDir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Core.NotifyFileCreated(project.SessionKey, req.Path, req.IsDir)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteFile(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}
	if !h.isProjectAdmin(c, project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only admin can delete files"})
		return
	}

	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query param required"})
		return
	}
	if err := h.WS.DeleteEntry(project.WorkspacePath, rel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Core.NotifyFileDeleted(project.SessionKey, rel)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) RenameFile(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}
	if !h.isProjectAdmin(c, project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only admin can rename files"})
		return
	}

	var req struct {
		OldPath string `json:"old_path" binding:"required"`
		NewPath string `json:"new_path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.WS.RenameEntry(project.WorkspacePath, req.OldPath, req.NewPath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Core.NotifyFileRenamed(project.SessionKey, req.OldPath, req.NewPath)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
