package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDestinationRequired   = errors.New("destination is required")
	ErrNoWatchersSelected    = errors.New("select at least one watcher")
	ErrInvalidWatcherID      = errors.New("invalid watcher id")
	ErrLocationUnavailable   = errors.New("current location is unavailable")
	ErrInvalidPosition       = errors.New("invalid position")
	ErrNoActiveSession       = errors.New("no active tracking session")
	ErrSessionAlreadyActive  = errors.New("a tracking session is already active")
	ErrSessionNotFound       = errors.New("tracking session not found")
	ErrMicrophoneUnavailable = errors.New("microphone is unavailable")
	ErrAlreadyRecording      = errors.New("already recording")
	ErrNotRecording          = errors.New("not recording")
	ErrAudioTooLarge         = errors.New("audio recording is too large")
	ErrInvalidAlertKind      = errors.New("alert kind must be panic or amber")
	ErrInvalidAlertType      = errors.New("unknown alert type")
	ErrInvalidAlertStatus    = errors.New("unknown alert status")
	ErrAlertNotFound         = errors.New("alert not found")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrProfileNotFound       = errors.New("profile not found")
	ErrInvalidImage          = errors.New("photo must be a JPEG, PNG or GIF image")
	ErrForbidden             = errors.New("not allowed")
	ErrCooldown              = errors.New("please wait before sending another alert")
)

// CooldownError is returned when an alert is sent again within the cooldown
// window. It matches ErrCooldown with errors.Is.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s (%ds remaining)", ErrCooldown.Error(), e.RetryAfterSeconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// RetryAfterSeconds rounds the remaining wait up to whole seconds.
func (e *CooldownError) RetryAfterSeconds() int {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
