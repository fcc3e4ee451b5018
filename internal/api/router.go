package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the REST surface and the websocket endpoint.
// wsHandler is the hub's upgrade handler; it is passed in as a plain gin
// handler to keep this package free of transport details.
func NewRouter(h *Handler, wsHandler gin.HandlerFunc) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Default())

	r.GET("/health", h.Health)
	r.GET("/ws", wsHandler)

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}

	projects := r.Group("/api/projects")
	{
		projects.POST("/create", h.AuthRequired, h.CreateProject)
		projects.GET("/my", h.AuthRequired, h.MyProjects)
		projects.GET("/:key/info", h.ProjectInfo)
	}

	files := r.Group("/api/session/:key/files", h.AuthOptional)
	{
		files.GET("", h.ListFiles)
		files.GET("/content", h.FileContent)
		files.POST("/save", h.SaveFile)
		files.POST("/create", h.CreateFile)
		files.DELETE("/delete", h.DeleteFile)
		files.POST("/rename", h.RenameFile)
	}

	admin := r.Group("/api/admin", h.AuthRequired)
	{
		admin.GET("/dashboard", h.Dashboard)
		admin.POST("/make-admin/:id", h.MakeAdmin)
		admin.DELETE("/delete-user/:id", h.DeleteUser)
		admin.POST("/kick-user/:key/:connId", h.KickUser)
		admin.POST("/close-session/:key", h.CloseSession)
	}

	return r
}
