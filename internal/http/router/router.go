package router

import (
	"github.com/gin-gonic/gin"

	"copyforge.app/pipeline/internal/http/handler"
	"copyforge.app/pipeline/internal/service"
)

func SetupRoutes(router *gin.Engine, runService service.RunService) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		runHandler := handler.NewRunHandler(runService)
		RunRouter(v1.Group("/runs"), runHandler)
	}
}
