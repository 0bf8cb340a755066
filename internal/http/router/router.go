package router

import (
	"github.com/gin-gonic/gin"

	"chroniq.app/engine/internal/http/handler"
	"chroniq.app/engine/internal/http/middleware"
	"chroniq.app/engine/internal/notify"
	"chroniq.app/engine/internal/service"
)

type RouterConfig struct {
	OwnerIDHeader string
}

func SetupRoutes(router *gin.Engine, services *service.Services, registry *notify.Registry, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	ownerHeader := cfg.OwnerIDHeader
	if ownerHeader == "" {
		ownerHeader = "X-Owner-ID"
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.OwnerIdentity(ownerHeader))
	{
		entryHandler := handler.NewEntryHandler(services.Dispatcher())
		v1.POST("/entries", entryHandler.Submit)

		jobHandler := handler.NewJobHandler(services.Jobs())
		streamHandler := handler.NewJobStreamHandler(services.Jobs(), registry)
		jobs := v1.Group("/jobs")
		{
			jobs.GET("/active", jobHandler.ListActive)
			jobs.GET("/:id", jobHandler.Get)
			jobs.POST("/:id/resubmit", jobHandler.Resubmit)
			jobs.GET("/:id/stream", streamHandler.Stream)
		}
	}
}
