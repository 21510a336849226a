package router

import (
	"github.com/gin-gonic/gin"

	"copyforge.app/pipeline/internal/http/handler"
)

func RunRouter(router *gin.RouterGroup, handler *handler.RunHandler) {
	router.POST("", handler.Submit)
	router.GET("/:id", handler.Status)
	router.POST("/:id/cancel", handler.Cancel)
	router.GET("/:id/article", handler.Article)
	router.GET("/:id/preview", handler.Preview)
}
