package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"guardian/internal/middleware"
	"guardian/internal/services"
	"guardian/internal/utils"
	"guardian/internal/validators"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{services.ErrDestinationRequired, http.StatusBadRequest, utils.CodeDestinationRequired},
	{services.ErrNoWatchersSelected, http.StatusBadRequest, utils.CodeNoWatchersSelected},
	{services.ErrInvalidWatcherID, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrInvalidPosition, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrInvalidAlertKind, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrInvalidAlertType, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrInvalidAlertStatus, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrInvalidImage, http.StatusBadRequest, utils.CodeBadRequest},
	{services.ErrAudioTooLarge, http.StatusRequestEntityTooLarge, utils.CodeBadRequest},
	{services.ErrLocationUnavailable, http.StatusUnprocessableEntity, utils.CodeLocationUnavailable},
	{services.ErrMicrophoneUnavailable, http.StatusUnprocessableEntity, utils.CodeMicUnavailable},
	{services.ErrNoActiveSession, http.StatusConflict, utils.CodeNoActiveSession},
	{services.ErrSessionAlreadyActive, http.StatusConflict, utils.CodeSessionAlreadyActive},
	{services.ErrAlreadyRecording, http.StatusConflict, utils.CodeAlreadyRecording},
	{services.ErrNotRecording, http.StatusConflict, utils.CodeNotRecording},
	{services.ErrSessionNotFound, http.StatusNotFound, utils.CodeNotFound},
	{services.ErrAlertNotFound, http.StatusNotFound, utils.CodeNotFound},
	{services.ErrNotificationNotFound, http.StatusNotFound, utils.CodeNotFound},
	{services.ErrProfileNotFound, http.StatusNotFound, utils.CodeNotFound},
	{services.ErrForbidden, http.StatusForbidden, utils.CodeForbidden},
}

// respondError writes the envelope for a service error. Unknown errors become
// a 500 without leaking their text.
func respondError(c *gin.Context, err error) {
	var cooldown *services.CooldownError
	if errors.As(err, &cooldown) {
		seconds := cooldown.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(seconds))
		utils.ErrorResponseWithDetails(c, http.StatusTooManyRequests, utils.CodeOnCooldown, err.Error(),
			map[string]interface{}{"retry_after_seconds": seconds})
		return
	}

	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			utils.ErrorResponse(c, m.status, m.code, m.target.Error())
			return
		}
	}

	_ = c.Error(err)
	utils.InternalServerErrorResponse(c)
}

func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
	}
	return userID, ok
}

func pathObjectID(c *gin.Context, name, label string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+label+" ID")
		return primitive.NilObjectID, false
	}
	return id, true
}

// bindAndValidate decodes the JSON body into req and runs its validate tags.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body: "+err.Error())
		return false
	}
	if errs := validators.ValidateStruct(req); errs != nil {
		utils.ValidationErrorResponse(c, errs.Details())
		return false
	}
	return true
}
