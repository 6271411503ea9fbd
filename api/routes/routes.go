package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/book-harvester/api/handlers"
	"github.com/feichai0017/book-harvester/api/middleware"
)

// SetupRoutes registers the status API.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowOrigins []string) {
	r.Use(middleware.CORS(allowOrigins))

	v1 := r.Group("/api/v1")
	v1.GET("/health", h.HealthCheck)

	docs := v1.Group("/documents")
	{
		docs.GET("/:id/status", h.Document.GetStatus)
		docs.POST("/:id/request", h.Document.RequestHarvest)
	}
}
