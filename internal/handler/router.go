package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/birdsearch/internal/middleware"
)

type RouterDeps struct {
	Sessions  *SessionHandler
	Labels    *LabelHandler
	Tasks     *TaskHandler
	Models    *ModelHandler
	JWTSecret []byte
	// SubmitWindow debounces repeated advance/finalize submissions.
	SubmitWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	submit := middleware.RateLimit(deps.SubmitWindow)

	authGroup.POST("/sessions", deps.Sessions.Create)
	authGroup.GET("/sessions/:id", deps.Sessions.Get)
	authGroup.POST("/sessions/:id/sample", deps.Sessions.Sample)
	authGroup.POST("/sessions/:id/advance", submit, deps.Sessions.Advance)
	authGroup.POST("/sessions/:id/stop", deps.Sessions.Stop)
	authGroup.PUT("/sessions/:id/labeling-complete", deps.Sessions.SetLabelingComplete)
	authGroup.GET("/sessions/:id/results", deps.Sessions.ListResults)
	authGroup.GET("/sessions/:id/progress", deps.Sessions.Progress)
	authGroup.GET("/sessions/:id/distributions", deps.Sessions.Distributions)
	authGroup.POST("/sessions/:id/finalize", submit, deps.Sessions.Finalize)
	authGroup.GET("/sessions/:id/models", deps.Models.ListBySession)

	authGroup.POST("/sessions/:id/results/:rid/tags", deps.Labels.AssignTag)
	authGroup.DELETE("/sessions/:id/results/:rid/tags/:tag", deps.Labels.RemoveTag)
	authGroup.PUT("/sessions/:id/results/:rid/flags", deps.Labels.SetFlags)
	authGroup.DELETE("/sessions/:id/results/:rid/labels", deps.Labels.Clear)

	authGroup.GET("/tasks/:id", deps.Tasks.Get)
	authGroup.POST("/tasks/:id/cancel", deps.Tasks.Cancel)

	authGroup.GET("/models/:id", deps.Models.Get)
	authGroup.POST("/models/:id/archive", deps.Models.Archive)
	authGroup.POST("/models/:id/score", deps.Models.Score)
}
