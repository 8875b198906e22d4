package utils

import (
	"fmt"
	"time"
)

// FormatHoursMinutes renders a duration as "{h}h {m}m", truncating seconds.
// Negative durations render as zero.
func FormatHoursMinutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func ParseTimeISO(timeStr string) (time.Time, error) {
	return time.Parse(time.RFC3339, timeStr)
}

// UnixMillis is used in blob keys so uploads sort by creation time.
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
