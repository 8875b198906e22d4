package config

import (
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
)

type TrackingConfig struct {
	ReminderPollInterval    time.Duration `yaml:"reminder_poll_interval"`
	ReminderAfter           time.Duration `yaml:"reminder_after"`
	ReminderEvery           time.Duration `yaml:"reminder_every"`
	AutoEscalateAfter       time.Duration `yaml:"auto_escalate_after"`
	LocationMinInterval     time.Duration `yaml:"location_min_interval"`
	PositionTimeout         time.Duration `yaml:"position_timeout"`
	PositionMaxAge          time.Duration `yaml:"position_max_age"`
	PositionMaxAccuracy     float64       `yaml:"position_max_accuracy"`
	EmergencyTrackingWindow time.Duration `yaml:"emergency_tracking_window"`
	AlertCooldown           time.Duration `yaml:"alert_cooldown"`
	AlertRetryAttempts      int           `yaml:"alert_retry_attempts"`
	AlertRetryDelay         time.Duration `yaml:"alert_retry_delay"`
	AlertFeedLimit          int           `yaml:"alert_feed_limit"`
	ContactsLimit           int           `yaml:"contacts_limit"`
	MediaPrefix             string        `yaml:"media_prefix"`
	NotifyConcurrency       int           `yaml:"notify_concurrency"`
	EmergencySMSEnabled     bool          `yaml:"emergency_sms_enabled"`
	CaptureTTL              time.Duration `yaml:"capture_ttl"`
	// InstanceID names this process in session ownership leases. It should
	// survive restarts so a rebooted instance reclaims its own sessions.
	InstanceID    string        `yaml:"instance_id"`
	OwnerLeaseTTL time.Duration `yaml:"owner_lease_ttl"`
}

func loadTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		ReminderPollInterval:    getEnvAsDuration("TRACKING_REMINDER_POLL_INTERVAL", 10*time.Second),
		ReminderAfter:           getEnvAsDuration("TRACKING_REMINDER_AFTER", time.Hour),
		ReminderEvery:           getEnvAsDuration("TRACKING_REMINDER_EVERY", 30*time.Minute),
		AutoEscalateAfter:       getEnvAsDuration("TRACKING_AUTO_ESCALATE_AFTER", 0),
		LocationMinInterval:     getEnvAsDuration("TRACKING_LOCATION_MIN_INTERVAL", 10*time.Second),
		PositionTimeout:         getEnvAsDuration("TRACKING_POSITION_TIMEOUT", 10*time.Second),
		PositionMaxAge:          getEnvAsDuration("TRACKING_POSITION_MAX_AGE", 30*time.Second),
		PositionMaxAccuracy:     getEnvAsFloat64("TRACKING_POSITION_MAX_ACCURACY", 0),
		EmergencyTrackingWindow: getEnvAsDuration("TRACKING_EMERGENCY_WINDOW", 2*time.Hour),
		AlertCooldown:           getEnvAsDuration("ALERT_COOLDOWN", 15*time.Second),
		AlertRetryAttempts:      getEnvAsInt("ALERT_RETRY_ATTEMPTS", 3),
		AlertRetryDelay:         getEnvAsDuration("ALERT_RETRY_DELAY", 500*time.Millisecond),
		AlertFeedLimit:          getEnvAsInt("ALERT_FEED_LIMIT", 30),
		ContactsLimit:           getEnvAsInt("CONTACTS_LIMIT", 20),
		MediaPrefix:             getEnv("MEDIA_PREFIX", "incident-media"),
		NotifyConcurrency:       getEnvAsInt("NOTIFY_CONCURRENCY", 8),
		EmergencySMSEnabled:     getEnvAsBool("EMERGENCY_SMS_ENABLED", true),
		CaptureTTL:              getEnvAsDuration("CAPTURE_TTL", 10*time.Minute),
		InstanceID:              getEnv("INSTANCE_ID", defaultInstanceID()),
		OwnerLeaseTTL:           getEnvAsDuration("TRACKING_OWNER_LEASE_TTL", 45*time.Second),
	}
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func (t *TrackingConfig) Validate() error {
	if t.ReminderPollInterval <= 0 {
		return errors.New("TRACKING_REMINDER_POLL_INTERVAL must be positive")
	}
	if t.ReminderEvery <= 0 || t.ReminderAfter < 0 {
		return errors.New("TRACKING_REMINDER_EVERY must be positive and TRACKING_REMINDER_AFTER non-negative")
	}
	if t.ReminderPollInterval >= t.ReminderEvery {
		return errors.New("TRACKING_REMINDER_POLL_INTERVAL must be shorter than TRACKING_REMINDER_EVERY")
	}
	if t.PositionTimeout <= 0 {
		return errors.New("TRACKING_POSITION_TIMEOUT must be positive")
	}
	if t.AlertRetryAttempts < 1 {
		return errors.New("ALERT_RETRY_ATTEMPTS must be at least 1")
	}
	if t.OwnerLeaseTTL <= 0 {
		return errors.New("TRACKING_OWNER_LEASE_TTL must be positive")
	}
	if t.CaptureTTL <= 0 {
		return errors.New("CAPTURE_TTL must be positive")
	}
	if t.AutoEscalateAfter < 0 {
		return errors.New("TRACKING_AUTO_ESCALATE_AFTER must not be negative")
	}
	return nil
}
