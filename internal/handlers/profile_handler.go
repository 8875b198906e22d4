package handlers

import (
	"guardian/internal/models"
	"guardian/internal/services"
	"guardian/internal/utils"

	"github.com/gin-gonic/gin"
)

type ProfileHandler struct {
	profileService services.ProfileService
}

func NewProfileHandler(profileService services.ProfileService) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
	}
}

type removeDeviceTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *ProfileHandler) GetMyProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := h.profileService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Profile retrieved", profile)
}

func (h *ProfileHandler) UpdateMyProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.UpsertProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	profile, err := h.profileService.UpsertProfile(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Profile updated", profile)
}

// UpdatePreferences toggles low-data mode
func (h *ProfileHandler) UpdatePreferences(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.UpdatePreferencesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	profile, err := h.profileService.SetLowDataMode(c.Request.Context(), userID, req.LowDataMode)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Preferences updated", profile)
}

// GetContacts lists the users the caller can choose as watchers
func (h *ProfileHandler) GetContacts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	contacts, err := h.profileService.ListContacts(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Contacts retrieved", contacts, &utils.Meta{Count: len(contacts)})
}

func (h *ProfileHandler) RegisterDeviceToken(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.DeviceTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.profileService.RegisterDeviceToken(c.Request.Context(), userID, &req); err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Device token registered", nil)
}

func (h *ProfileHandler) RemoveDeviceToken(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req removeDeviceTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.profileService.RemoveDeviceToken(c.Request.Context(), userID, req.Token); err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Device token removed", nil)
}
