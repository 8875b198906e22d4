package utils

import "time"

// Application Constants
const (
	AppName    = "Guardian"
	AppVersion = "1.0.0"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	// Authentication
	JWTAccessTokenTTL = 24 * time.Hour

	// File Upload
	MaxImageSize = 5 * 1024 * 1024  // 5MB
	MaxAudioSize = 25 * 1024 * 1024 // 25MB

	// Outfit photos are scaled down to fit this box before upload
	OutfitPhotoMaxDimension = 1024
	OutfitPhotoJPEGQuality  = 85

	// Alerts
	DefaultAlertFeedLimit = 30
	MaxAlertFeedLimit     = 100
	DefaultLocationName   = "Current Location"

	// Notification
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInvalidToken     = "invalid token"
	ErrInvalidInput     = "invalid input"
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrNotFound         = "not found"
	ErrValidationFailed = "validation failed"
	ErrFileUploadFailed = "file upload failed"
	ErrTooManyRequests  = "too many requests"
)

// Error Codes
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
	CodeOnCooldown           = "ON_COOLDOWN"
	CodeDestinationRequired  = "DESTINATION_REQUIRED"
	CodeNoWatchersSelected   = "NO_WATCHERS_SELECTED"
	CodeLocationUnavailable  = "LOCATION_UNAVAILABLE"
	CodeMicUnavailable       = "MICROPHONE_UNAVAILABLE"
	CodeNoActiveSession      = "NO_ACTIVE_SESSION"
	CodeSessionAlreadyActive = "SESSION_ALREADY_ACTIVE"
	CodeAlreadyRecording     = "ALREADY_RECORDING"
	CodeNotRecording         = "NOT_RECORDING"
)

// Cache Keys
const (
	CachePositionPrefix      = "position:"
	CacheAlertCooldownPrefix = "alert:cooldown:"
	CacheReminderPrefix      = "tracking:remind:"
	CacheRateLimitPrefix     = "rate_limit:"
	CacheTrackingOwnerPrefix = "tracking:owner:"
	CacheCapturePrefix       = "alert:capture:"
)

// Notification channels
const (
	NotificationPush  = "push"
	NotificationSMS   = "sms"
	NotificationInApp = "in_app"
)

// File Types
var (
	AllowedImageTypes = []string{"jpg", "jpeg", "png", "gif"}
)
