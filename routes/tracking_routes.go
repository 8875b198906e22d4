package routes

import (
	"guardian/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupTrackingRoutes registers the Look After Me endpoints. r must already
// carry the auth middleware.
func SetupTrackingRoutes(r *gin.RouterGroup, trackingHandler *handlers.TrackingHandler, positionHandler *handlers.PositionHandler) {
	tracking := r.Group("/tracking")
	{
		tracking.POST("/sessions", trackingHandler.StartSession)
		tracking.GET("/sessions", trackingHandler.ListHistory)
		tracking.GET("/sessions/:id", trackingHandler.GetSession)
		tracking.POST("/outfit-photo", trackingHandler.UploadOutfitPhoto)

		// Caller's live trip
		active := tracking.Group("/sessions/active")
		{
			active.GET("", trackingHandler.GetActiveSession)
			active.GET("/status", trackingHandler.GetCheckInStatus)
			active.POST("/check-in", trackingHandler.CheckIn)
			active.POST("/end", trackingHandler.EndSession)
			active.POST("/emergency", trackingHandler.TriggerEmergency)
		}

		tracking.GET("/watching", trackingHandler.ListWatchedSessions)
	}

	r.POST("/positions", positionHandler.ReportPosition)
}
