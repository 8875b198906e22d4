package handlers

import (
	"errors"
	"io"

	"guardian/internal/models"
	"guardian/internal/services"
	"guardian/internal/utils"
	"guardian/internal/validators"

	"github.com/gin-gonic/gin"
)

type CaptureHandler struct {
	panicService services.PanicService
	maxBytes     int
}

func NewCaptureHandler(panicService services.PanicService, maxAudioBytes int) *CaptureHandler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = utils.MaxAudioSize
	}
	return &CaptureHandler{
		panicService: panicService,
		maxBytes:     maxAudioBytes,
	}
}

// StartCaptureRequest carries the microphone permission the client holds.
// A missing flag means permission was granted.
type StartCaptureRequest struct {
	MicrophoneGranted *bool `json:"microphone_granted,omitempty"`
}

// optionalJSON binds a body that may be empty.
func optionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequestResponse(c, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func captureKind(c *gin.Context) models.AlertType {
	return models.AlertType(c.Param("kind"))
}

func (h *CaptureHandler) StartRecording(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req StartCaptureRequest
	if !optionalJSON(c, &req) {
		return
	}

	device := &services.BufferedAudioDevice{
		Available: req.MicrophoneGranted == nil || *req.MicrophoneGranted,
		MaxBytes:  h.maxBytes,
	}
	kind := captureKind(c)
	if err := h.panicService.StartRecording(c.Request.Context(), userID, kind, device); err != nil {
		respondError(c, err)
		return
	}

	state, err := h.panicService.RecordingState(c.Request.Context(), userID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.CreatedResponse(c, "Recording started", state)
}

// AppendAudio appends the raw request body to the running recording
func (h *CaptureHandler) AppendAudio(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	chunk, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(h.maxBytes)+1))
	if err != nil {
		utils.BadRequestResponse(c, "Unable to read audio chunk")
		return
	}
	if len(chunk) > h.maxBytes {
		respondError(c, services.ErrAudioTooLarge)
		return
	}

	kind := captureKind(c)
	if err := h.panicService.AppendAudio(c.Request.Context(), userID, kind, chunk); err != nil {
		respondError(c, err)
		return
	}

	state, err := h.panicService.RecordingState(c.Request.Context(), userID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, "Audio received", state)
}

// SendAlert stops the recording and raises the alert
func (h *CaptureHandler) SendAlert(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.SendAlertRequest
	if !optionalJSON(c, &req) {
		return
	}
	if errs := validators.ValidateStruct(&req); errs != nil {
		utils.ValidationErrorResponse(c, errs.Details())
		return
	}

	alert, err := h.panicService.StopRecordingAndSend(c.Request.Context(), userID, captureKind(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Alert sent", alert)
}

func (h *CaptureHandler) CancelRecording(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.panicService.CancelRecording(c.Request.Context(), userID, captureKind(c)); err != nil {
		respondError(c, err)
		return
	}

	utils.NoContentResponse(c)
}

func (h *CaptureHandler) GetRecordingState(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	kind := captureKind(c)
	if kind != models.AlertTypePanic && kind != models.AlertTypeAmber {
		respondError(c, services.ErrInvalidAlertKind)
		return
	}

	state, err := h.panicService.RecordingState(c.Request.Context(), userID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, "Recording state retrieved", state)
}
