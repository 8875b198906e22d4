package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationType string

const (
	NotificationTypeAlert   NotificationType = "alert"
	NotificationTypeMessage NotificationType = "message"
	NotificationTypeSystem  NotificationType = "system"
	NotificationTypeMention NotificationType = "mention"
	NotificationTypeComment NotificationType = "comment"
	NotificationTypeLike    NotificationType = "like"
	NotificationTypeTrip    NotificationType = "trip"
	NotificationTypeCheckIn NotificationType = "check_in"
)

type Notification struct {
	ID        primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	UserID    primitive.ObjectID     `json:"user_id" bson:"user_id"`
	Type      NotificationType       `json:"type" bson:"type"`
	Title     string                 `json:"title" bson:"title"`
	Message   string                 `json:"message" bson:"message"`
	Data      map[string]interface{} `json:"data,omitempty" bson:"data,omitempty"`
	Link      string                 `json:"link,omitempty" bson:"link,omitempty"`
	IsRead    bool                   `json:"is_read" bson:"is_read"`
	ReadAt    *time.Time             `json:"read_at,omitempty" bson:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
}
