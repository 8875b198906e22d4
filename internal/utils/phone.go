package utils

import (
	"regexp"
	"strings"
)

var (
	phoneRegex    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	phoneStripper = regexp.MustCompile(`[^\d+]`)
)

// IsValidPhone reports whether phone is in E.164 form.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

func NormalizePhone(phone string) string {
	normalized := phoneStripper.ReplaceAllString(phone, "")
	if normalized == "" {
		return ""
	}
	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + strings.TrimPrefix(normalized, "00")
	}
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}
	return normalized
}

func MaskPhone(phone string) string {
	if len(phone) < 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
