package handlers

import (
	"net/http"
	"time"

	"guardian/internal/models"
	"guardian/internal/services"
	"guardian/internal/utils"
	"guardian/internal/validators"

	"github.com/gin-gonic/gin"
)

type TrackingHandler struct {
	trackingService services.TrackingService
}

func NewTrackingHandler(trackingService services.TrackingService) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
	}
}

// StartSession starts a Look After Me trip for the caller
func (h *TrackingHandler) StartSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}
	if errs := validators.ValidateStartSession(&req, time.Now()); errs != nil {
		utils.ValidationErrorResponse(c, errs.Details())
		return
	}

	view, err := h.trackingService.StartSession(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Tracking session started", view)
}

// UploadOutfitPhoto accepts a multipart "photo" and returns its public URL
func (h *TrackingHandler) UploadOutfitPhoto(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, utils.MaxImageSize+1<<20)
	file, err := c.FormFile("photo")
	if err != nil {
		utils.BadRequestResponse(c, "Photo file is required")
		return
	}
	if file.Size > utils.MaxImageSize {
		utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, utils.CodeBadRequest, "Photo exceeds 5MB")
		return
	}

	src, err := file.Open()
	if err != nil {
		utils.BadRequestResponse(c, "Unable to read photo")
		return
	}
	defer src.Close()

	url, err := h.trackingService.UploadOutfitPhoto(c.Request.Context(), userID, file.Filename, src)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Outfit photo uploaded", gin.H{"url": url})
}

// GetActiveSession returns the caller's active trip, or null when idle
func (h *TrackingHandler) GetActiveSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := h.trackingService.FetchActiveSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if view == nil {
		utils.SuccessResponse(c, "No active session", nil)
		return
	}

	utils.SuccessResponse(c, "Active session retrieved", view)
}

func (h *TrackingHandler) GetCheckInStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.trackingService.GetCheckInStatus(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Check-in status retrieved", status)
}

func (h *TrackingHandler) CheckIn(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.trackingService.CheckIn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Checked in safely", session)
}

func (h *TrackingHandler) EndSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, err := h.trackingService.EndSession(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Tracking session ended", session)
}

// TriggerEmergency escalates the active trip. The session is escalated even
// when the alert record could not be stored, so that case still answers 200.
func (h *TrackingHandler) TriggerEmergency(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	session, alert, err := h.trackingService.TriggerEmergency(c.Request.Context(), userID)
	if err != nil && session == nil {
		respondError(c, err)
		return
	}

	message := "Emergency triggered, watchers notified"
	if err != nil {
		_ = c.Error(err)
		message = "Emergency triggered, watchers notified but the alert could not be recorded"
	}

	utils.SuccessResponse(c, message, gin.H{
		"session": session,
		"alert":   alert,
	})
}

func (h *TrackingHandler) ListHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	sessions, total, err := h.trackingService.ListHistory(c.Request.Context(), userID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Tracking history retrieved", sessions, &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
	})
}

func (h *TrackingHandler) GetSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := pathObjectID(c, "id", "session")
	if !ok {
		return
	}

	session, err := h.trackingService.GetSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Tracking session retrieved", session)
}

// ListWatchedSessions lists live trips where the caller is a watcher
func (h *TrackingHandler) ListWatchedSessions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	sessions, err := h.trackingService.ListWatchedSessions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Watched sessions retrieved", sessions, &utils.Meta{Count: len(sessions)})
}
