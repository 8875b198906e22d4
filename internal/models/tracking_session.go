package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TrackingStatus string

const (
	TrackingStatusActive    TrackingStatus = "active"
	TrackingStatusCompleted TrackingStatus = "completed"
	TrackingStatusCancelled TrackingStatus = "cancelled"
	TrackingStatusEmergency TrackingStatus = "emergency"
)

// IsTerminal reports whether no further transition is allowed.
func (s TrackingStatus) IsTerminal() bool {
	return s != TrackingStatusActive
}

type TrackingSession struct {
	ID                  primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	UserID              primitive.ObjectID   `json:"user_id" bson:"user_id"`
	DestinationName     string               `json:"destination_name" bson:"destination_name"`
	DestinationLocation *Location            `json:"destination_location,omitempty" bson:"destination_location,omitempty"`
	CurrentLocation     *Location            `json:"current_location,omitempty" bson:"current_location,omitempty"`
	Status              TrackingStatus       `json:"status" bson:"status"`
	WatcherIDs          []primitive.ObjectID `json:"watcher_ids" bson:"watcher_ids"`
	StartedAt           time.Time            `json:"started_at" bson:"started_at"`
	EstimatedArrival    *time.Time           `json:"estimated_arrival,omitempty" bson:"estimated_arrival,omitempty"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	LocationUpdatedAt   *time.Time           `json:"location_updated_at,omitempty" bson:"location_updated_at,omitempty"`
	EscalatedAt         *time.Time           `json:"escalated_at,omitempty" bson:"escalated_at,omitempty"`

	// Trip details echoed to watchers.
	Companions        []Companion `json:"companions,omitempty" bson:"companions,omitempty"`
	VehicleMake       string      `json:"vehicle_make,omitempty" bson:"vehicle_make,omitempty"`
	VehicleModel      string      `json:"vehicle_model,omitempty" bson:"vehicle_model,omitempty"`
	VehicleColor      string      `json:"vehicle_color,omitempty" bson:"vehicle_color,omitempty"`
	VehiclePlate      string      `json:"vehicle_plate,omitempty" bson:"vehicle_plate,omitempty"`
	OutfitDescription string      `json:"outfit_description,omitempty" bson:"outfit_description,omitempty"`
	OutfitPhotoURL    string      `json:"outfit_photo_url,omitempty" bson:"outfit_photo_url,omitempty"`
	MightBeLate       bool        `json:"might_be_late" bson:"might_be_late"`
	StayingOvernight  bool        `json:"staying_overnight" bson:"staying_overnight"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// IsWatchedBy reports whether userID is one of the session's watchers.
func (s *TrackingSession) IsWatchedBy(userID primitive.ObjectID) bool {
	for _, id := range s.WatcherIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Companion struct {
	Name         string `json:"name" bson:"name" validate:"required,max=100"`
	Phone        string `json:"phone,omitempty" bson:"phone,omitempty" validate:"omitempty,phone_number"`
	Relationship string `json:"relationship,omitempty" bson:"relationship,omitempty" validate:"max=50"`
}

// Watcher is the resolved identity of one watcher id.
type Watcher struct {
	ID       primitive.ObjectID `json:"id"`
	FullName string             `json:"full_name"`
}

type ActiveSessionView struct {
	Session  *TrackingSession `json:"session"`
	Watchers []Watcher        `json:"watchers"`
}

type WatchedSession struct {
	Session *TrackingSession `json:"session"`
	Owner   Watcher          `json:"owner"`
}

type CheckInStatus struct {
	SessionID        primitive.ObjectID `json:"session_id"`
	Elapsed          string             `json:"elapsed"`
	ElapsedSeconds   int64              `json:"elapsed_seconds"`
	Remaining        string             `json:"remaining,omitempty"`
	Overdue          bool               `json:"overdue"`
	DistanceKM       *float64           `json:"distance_km,omitempty"`
	ShouldRemind     bool               `json:"should_remind"`
	EstimatedArrival *time.Time         `json:"estimated_arrival,omitempty"`
}

type StartSessionRequest struct {
	DestinationName      string      `json:"destination_name" validate:"max=200"`
	DestinationLatitude  *float64    `json:"destination_latitude,omitempty" validate:"omitempty,latitude"`
	DestinationLongitude *float64    `json:"destination_longitude,omitempty" validate:"omitempty,longitude"`
	WatcherIDs           []string    `json:"watcher_ids" validate:"dive,object_id"`
	EstimatedArrival     *time.Time  `json:"estimated_arrival,omitempty"`
	Companions           []Companion `json:"companions,omitempty" validate:"max=10,dive"`
	VehicleMake          string      `json:"vehicle_make,omitempty" validate:"max=50"`
	VehicleModel         string      `json:"vehicle_model,omitempty" validate:"max=50"`
	VehicleColor         string      `json:"vehicle_color,omitempty" validate:"max=30"`
	VehiclePlate         string      `json:"vehicle_plate,omitempty" validate:"max=20"`
	OutfitDescription    string      `json:"outfit_description,omitempty" validate:"max=500"`
	OutfitPhotoURL       string      `json:"outfit_photo_url,omitempty" validate:"omitempty,url"`
	MightBeLate          bool        `json:"might_be_late"`
	StayingOvernight     bool        `json:"staying_overnight"`
}
