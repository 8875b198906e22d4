package models

import (
	"time"

	"guardian/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DevicePlatform string

const (
	PlatformAndroid DevicePlatform = "android"
	PlatformIOS     DevicePlatform = "ios"
	PlatformWeb     DevicePlatform = "web"
)

type Profile struct {
	ID           primitive.ObjectID `json:"id" bson:"_id"`
	FullName     string             `json:"full_name" bson:"full_name"`
	DisplayName  string             `json:"display_name" bson:"display_name"`
	PhoneNumber  string             `json:"phone_number,omitempty" bson:"phone_number,omitempty"`
	AvatarURL    string             `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	LowDataMode  bool               `json:"low_data_mode" bson:"low_data_mode"`
	DeviceTokens []DeviceToken      `json:"-" bson:"device_tokens,omitempty"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

// Name falls back from full name to display name to "User".
func (p *Profile) Name() string {
	return utils.CoalesceString(p.FullName, p.DisplayName, "User")
}

func (p *Profile) AsWatcher() Watcher {
	return Watcher{ID: p.ID, FullName: p.Name()}
}

type DeviceToken struct {
	Token     string         `json:"token" bson:"token"`
	Platform  DevicePlatform `json:"platform" bson:"platform"`
	UpdatedAt time.Time      `json:"updated_at" bson:"updated_at"`
}

type UpsertProfileRequest struct {
	FullName    string `json:"full_name" validate:"max=100"`
	DisplayName string `json:"display_name" validate:"max=50"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,phone_number"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url"`
}

type DeviceTokenRequest struct {
	Token    string         `json:"token" validate:"required,max=4096"`
	Platform DevicePlatform `json:"platform" validate:"required,oneof=android ios web"`
}

type UpdatePreferencesRequest struct {
	LowDataMode bool `json:"low_data_mode"`
}
