package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// requireSiteAdmin gates platform-level admin endpoints on the account's
// global admin flag (distinct from owning an individual session).
func (h *Handler) requireSiteAdmin(c *gin.Context) bool {
	user, err := h.Users.FindByID(currentUser(c))
	if err != nil || !user.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return false
	}
	return true
}

func (h *Handler) Dashboard(c *gin.Context) {
	if !h.requireSiteAdmin(c) {
		return
	}

	users, err := h.Users.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	projects, err := h.Projects.All()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	active := 0
	for _, p := range projects {
		if p.Active {
			active++
		}
	}

	userList := make([]gin.H, 0, len(users))
	for _, u := range users {
		userList = append(userList, gin.H{"id": u.ID, "username": u.Username, "email": u.Email})
	}
	projectList := make([]gin.H, 0, len(projects))
	for _, p := range projects {
		projectList = append(projectList, gin.H{"id": p.ID, "name": p.Name, "session_key": p.SessionKey})
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": gin.H{
			"total_users":     len(users),
			"total_projects":  len(projects),
			"active_sessions": active,
		},
		"users":    userList,
		"projects": projectList,
	})
}

func (h *Handler) MakeAdmin(c *gin.Context) {
	if !h.requireSiteAdmin(c) {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.Users.SetAdmin(uint(id)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if !h.requireSiteAdmin(c) {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := h.Users.Delete(uint(id)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// KickUser evicts a participant from a live session. Only the session's
// owning admin may do this.
func (h *Handler) KickUser(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}
	if !h.isProjectAdmin(c, project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	h.Core.Evict(project.SessionKey, c.Param("connId"))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) CloseSession(c *gin.Context) {
	project, ok := h.project(c)
	if !ok {
		return
	}
	if !h.isProjectAdmin(c, project) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	if err := h.Core.Close(project.SessionKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
