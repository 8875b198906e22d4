package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AlertType string
type AlertStatus string
type AlertCategory string
type AlertAudience string

const (
	AlertTypePanic         AlertType = "panic"
	AlertTypeRobbery       AlertType = "robbery"
	AlertTypeAssault       AlertType = "assault"
	AlertTypeSuspicious    AlertType = "suspicious"
	AlertTypeHouseBreaking AlertType = "house_breaking"
	AlertTypeOther         AlertType = "other"
	AlertTypeAmber         AlertType = "amber"
	AlertTypeAccident      AlertType = "accident"
	AlertTypeKidnapping    AlertType = "kidnapping"
	AlertTypeFire          AlertType = "fire"
	AlertTypeMedical       AlertType = "medical"
	AlertTypeUnsafeArea    AlertType = "unsafe_area"

	AlertStatusActive     AlertStatus = "active"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusFalseAlarm AlertStatus = "false_alarm"

	AlertCategoryCritical  AlertCategory = "critical"
	AlertCategoryCrime     AlertCategory = "crime"
	AlertCategoryEmergency AlertCategory = "emergency"
	AlertCategoryOther     AlertCategory = "other"

	AudienceNearby   AlertAudience = "nearby"
	AudienceContacts AlertAudience = "contacts"
	AudiencePublic   AlertAudience = "public"
)

var AlertTypes = []AlertType{
	AlertTypePanic, AlertTypeRobbery, AlertTypeAssault, AlertTypeSuspicious,
	AlertTypeHouseBreaking, AlertTypeOther, AlertTypeAmber, AlertTypeAccident,
	AlertTypeKidnapping, AlertTypeFire, AlertTypeMedical, AlertTypeUnsafeArea,
}

var AlertCategories = []AlertCategory{
	AlertCategoryCritical, AlertCategoryCrime, AlertCategoryEmergency, AlertCategoryOther,
}

func (t AlertType) IsValid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category groups alert types for the feed.
func (t AlertType) Category() AlertCategory {
	switch t {
	case AlertTypePanic, AlertTypeAmber, AlertTypeAssault, AlertTypeKidnapping:
		return AlertCategoryCritical
	case AlertTypeRobbery, AlertTypeHouseBreaking, AlertTypeSuspicious:
		return AlertCategoryCrime
	case AlertTypeFire, AlertTypeAccident, AlertTypeMedical:
		return AlertCategoryEmergency
	default:
		return AlertCategoryOther
	}
}

// Title is the human label used in notifications.
func (t AlertType) Title() string {
	switch t {
	case AlertTypePanic:
		return "Panic Alert"
	case AlertTypeAmber:
		return "Amber Alert"
	case AlertTypeRobbery:
		return "Robbery Alert"
	case AlertTypeAssault:
		return "Assault Alert"
	case AlertTypeKidnapping:
		return "Kidnapping Alert"
	case AlertTypeFire:
		return "Fire Alert"
	case AlertTypeAccident:
		return "Accident Alert"
	case AlertTypeHouseBreaking:
		return "House Breaking Alert"
	case AlertTypeSuspicious:
		return "Suspicious Activity"
	case AlertTypeMedical:
		return "Medical Emergency"
	case AlertTypeUnsafeArea:
		return "Unsafe Area Alert"
	default:
		return "New Alert"
	}
}

func (s AlertStatus) IsValid() bool {
	return s == AlertStatusActive || s == AlertStatusResolved || s == AlertStatusFalseAlarm
}

func (a AlertAudience) IsValid() bool {
	return a == AudienceNearby || a == AudienceContacts || a == AudiencePublic
}

// Label is the wording used in alert descriptions.
func (a AlertAudience) Label() string {
	switch a {
	case AudienceContacts:
		return "contacts"
	case AudiencePublic:
		return "public feed"
	default:
		return "nearby users"
	}
}

type Alert struct {
	ID                primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	UserID            primitive.ObjectID  `json:"user_id" bson:"user_id"`
	AlertType         AlertType           `json:"alert_type" bson:"alert_type"`
	Location          *Location           `json:"location,omitempty" bson:"location,omitempty"`
	LocationName      string              `json:"location_name" bson:"location_name"`
	Description       string              `json:"description" bson:"description"`
	AudioURL          string              `json:"audio_url,omitempty" bson:"audio_url,omitempty"`
	Status            AlertStatus         `json:"status" bson:"status"`
	IsFalseAlarm      bool                `json:"is_false_alarm" bson:"is_false_alarm"`
	TrackingSessionID *primitive.ObjectID `json:"tracking_session_id,omitempty" bson:"tracking_session_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" bson:"updated_at"`
}

type CreateAlertRequest struct {
	AlertType    AlertType `json:"alert_type" validate:"required,alert_type"`
	Latitude     float64   `json:"latitude" validate:"latitude"`
	Longitude    float64   `json:"longitude" validate:"longitude"`
	LocationName string    `json:"location_name" validate:"max=200"`
	Description  string    `json:"description" validate:"max=1000"`
	AudioURL     string    `json:"audio_url,omitempty" validate:"omitempty,url"`
}

type UpdateAlertStatusRequest struct {
	Status AlertStatus `json:"status" validate:"required,oneof=active resolved false_alarm"`
}

type SendAlertRequest struct {
	Audience    AlertAudience `json:"audience" validate:"omitempty,alert_audience"`
	LowDataMode *bool         `json:"low_data_mode,omitempty"`
}

type RecordingPhase string

const (
	RecordingIdle      RecordingPhase = "idle"
	RecordingRecording RecordingPhase = "recording"
)

type RecordingState struct {
	Kind      AlertType      `json:"kind"`
	Phase     RecordingPhase `json:"phase"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Bytes     int            `json:"bytes"`
}
