// Package api exposes the REST surface: auth, project management, file
// operations and admin actions. Handlers are thin adapters that parse and
// validate, then call into the repositories, the workspace manager, or the
// coordination core.
package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/elmoiv/Maan/internal/auth"
	"github.com/elmoiv/Maan/internal/models"
	"github.com/elmoiv/Maan/internal/repository"
	"github.com/elmoiv/Maan/internal/session"
	"github.com/elmoiv/Maan/internal/workspace"
)

const cloneTimeout = 60 * time.Second

// SessionWatcher registers a session workspace with the fsnotify watcher.
type SessionWatcher interface {
	WatchSession(sessionKey string) error
}

type Handler struct {
	Auth     *auth.Service
	Users    *repository.UserRepository
	Projects *repository.ProjectRepository
	Core     *session.Service
	WS       *workspace.Manager
	Watcher  SessionWatcher

	DefaultMaxUsers int
}

// newSessionKey returns an opaque, unguessable, URL-safe session key.
func newSessionKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// AuthRequired extracts and validates the bearer token, storing the account
// id in the request context.
func (h *Handler) AuthRequired(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	userID, err := h.Auth.VerifyToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.Set("userID", userID)
	c.Next()
}

// AuthOptional is AuthRequired without the rejection: anonymous requests
// proceed with no account id.
func (h *Handler) AuthOptional(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		if userID, err := h.Auth.VerifyToken(token); err == nil {
			c.Set("userID", userID)
		}
	}
	c.Next()
}

func currentUser(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		return v.(uint)
	}
	return 0
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ==================== Auth ====================

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := h.Auth.Register(req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) || errors.Is(err, auth.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  token,
		"user":   gin.H{"id": user.ID, "username": user.Username},
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := h.Auth.Login(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"token":  token,
		"user":   gin.H{"id": user.ID, "username": user.Username, "is_admin": user.IsAdmin},
	})
}

// ==================== Projects ====================

func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		GithubURL string `json:"github_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionKey := newSessionKey()
	dir, err := h.WS.Dir(sessionKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.GithubURL != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cloneTimeout)
		defer cancel()
		if err := h.WS.Clone(ctx, req.GithubURL, dir); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to clone: " + err.Error()})
			return
		}
	}

	project := &models.Project{
		Name:          req.Name,
		SessionKey:    sessionKey,
		AdminID:       currentUser(c),
		GithubURL:     req.GithubURL,
		WorkspacePath: dir,
		MaxUsers:      h.DefaultMaxUsers,
		Active:        true,
	}
	if err := h.Projects.Create(project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.Watcher != nil {
		if err := h.Watcher.WatchSession(sessionKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	h.Core.SessionCreated(sessionKey, project.Name)

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"session_key": sessionKey,
		"join_url":    "/session/" + sessionKey,
	})
}

func (h *Handler) MyProjects(c *gin.Context) {
	projects, err := h.Projects.FindByAdminID(currentUser(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(projects))
	for _, p := range projects {
		out = append(out, gin.H{
			"id":          p.ID,
			"name":        p.Name,
			"session_key": p.SessionKey,
			"github_url":  p.GithubURL,
			"created_at":  p.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ProjectInfo(c *gin.Context) {
	project, err := h.Projects.FindBySessionKey(c.Param("key"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        project.Name,
		"session_key": project.SessionKey,
		"max_users":   project.MaxUsers,
		"active":      project.Active,
	})
}

// project resolves the :key path parameter, replying 404 on a miss.
func (h *Handler) project(c *gin.Context) (*models.Project, bool) {
	project, err := h.Projects.FindBySessionKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil, false
	}
	return project, true
}

func (h *Handler) isProjectAdmin(c *gin.Context, project *models.Project) bool {
	userID := currentUser(c)
	return userID != 0 && userID == project.AdminID
}
