package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes wires every HTTP endpoint of spec.md §6's contract onto
// router, following the teacher's flat SetupRoutes(router, ...) shape.
func SetupRoutes(router *gin.Engine, h *Handlers, wsHub *WebSocketHub) {
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.POST("/scan", h.ScanDevices)
			devices.GET("/:serial/screenshot", h.Screenshot)
		}

		jobRoutes := api.Group("/job")
		{
			jobRoutes.POST("/start", h.JobStart)
			jobRoutes.POST("/resume", h.JobResume)
			jobRoutes.POST("/stop", h.JobStop)
			jobRoutes.GET("/status", h.JobStatus)
			jobRoutes.POST("/accounts/:filename/mark-bugged", h.MarkBugged)
		}

		workflows := api.Group("/workflows")
		{
			workflows.GET("", h.ListWorkflows)
			workflows.POST("", h.CreateWorkflow)
			workflows.POST("/:id/set-master", h.SetMasterWorkflow)
			workflows.POST("/:id/execute/:serial", h.ExecuteWorkflow)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.POST("/capture", h.CaptureTemplate)
		}

		batchRoutes := api.Group("/batch")
		{
			batchRoutes.POST("/duplicates", h.FindDuplicates)
			batchRoutes.POST("/export", h.ExportAccounts)
		}
	}

	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(wsHub, c)
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
