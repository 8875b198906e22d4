package handlers

import (
	"guardian/internal/models"
	"guardian/internal/services"
	"guardian/internal/utils"

	"github.com/gin-gonic/gin"
)

type PositionHandler struct {
	positionService services.PositionService
}

func NewPositionHandler(positionService services.PositionService) *PositionHandler {
	return &PositionHandler{
		positionService: positionService,
	}
}

// ReportPosition records a device fix for the caller
func (h *PositionHandler) ReportPosition(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.ReportPositionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	position, err := h.positionService.ReportPosition(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Position recorded", position)
}
