package routes

import (
	"guardian/internal/handlers"

	"github.com/gin-gonic/gin"
)

func SetupNotificationRoutes(r *gin.RouterGroup, notificationHandler *handlers.NotificationHandler) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", notificationHandler.ListNotifications)
		notifications.GET("/unread-count", notificationHandler.GetUnreadCount)
		notifications.PATCH("/read-all", notificationHandler.MarkAllAsRead)
		notifications.PATCH("/:id/read", notificationHandler.MarkAsRead)
		notifications.DELETE("/read", notificationHandler.DeleteRead)
		notifications.DELETE("/:id", notificationHandler.DeleteNotification)
	}
}

func SetupProfileRoutes(r *gin.RouterGroup, profileHandler *handlers.ProfileHandler) {
	profiles := r.Group("/profiles")
	{
		profiles.GET("/me", profileHandler.GetMyProfile)
		profiles.PUT("/me", profileHandler.UpdateMyProfile)
		profiles.PUT("/me/preferences", profileHandler.UpdatePreferences)
		profiles.POST("/me/device-tokens", profileHandler.RegisterDeviceToken)
		profiles.DELETE("/me/device-tokens", profileHandler.RemoveDeviceToken)
		profiles.GET("/contacts", profileHandler.GetContacts)
	}
}
