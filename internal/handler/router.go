package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, logger *zap.Logger, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.GET("/margin", h.GetMargin)

		consignment := api.Group("/consignment")
		{
			consignment.POST("/create", h.CreateConsignment)
			consignment.POST("/delete", h.DeleteConsignment)
			consignment.GET("/detail", h.GetConsignment)
			consignment.GET("/list", h.ListConsignments)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
