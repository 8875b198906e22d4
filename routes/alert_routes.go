package routes

import (
	"guardian/internal/handlers"

	"github.com/gin-gonic/gin"
)

func SetupAlertRoutes(r *gin.RouterGroup, alertHandler *handlers.AlertHandler, captureHandler *handlers.CaptureHandler) {
	alerts := r.Group("/alerts")
	{
		alerts.POST("", alertHandler.CreateAlert)
		alerts.GET("", alertHandler.GetAlerts)
		alerts.GET("/mine", alertHandler.GetMyAlerts)
		alerts.GET("/:id", alertHandler.GetAlert)
		alerts.PATCH("/:id/status", alertHandler.UpdateAlertStatus)
	}

	// Panic and amber capture flow
	capture := r.Group("/alerts/capture/:kind")
	{
		capture.GET("", captureHandler.GetRecordingState)
		capture.DELETE("", captureHandler.CancelRecording)
		capture.POST("/start", captureHandler.StartRecording)
		capture.POST("/chunks", captureHandler.AppendAudio)
		capture.POST("/send", captureHandler.SendAlert)
	}
}
