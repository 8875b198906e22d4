package handlers

import (
	"strconv"

	"guardian/internal/models"
	"guardian/internal/services"
	"guardian/internal/utils"

	"github.com/gin-gonic/gin"
)

type AlertHandler struct {
	alertService services.AlertService
}

func NewAlertHandler(alertService services.AlertService) *AlertHandler {
	return &AlertHandler{
		alertService: alertService,
	}
}

// CreateAlert stores a community report
func (h *AlertHandler) CreateAlert(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateAlertRequest
	if !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.alertService.ReportAlert(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, "Alert reported", alert)
}

// GetAlerts returns the recent feed; ?grouped=true groups it by category
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	limit, _ := utils.GetLimitOffset(c, utils.DefaultAlertFeedLimit, utils.MaxAlertFeedLimit)

	if grouped, _ := strconv.ParseBool(c.Query("grouped")); grouped {
		groups, err := h.alertService.GetAlertsByCategory(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		utils.SuccessResponse(c, "Alerts retrieved", groups)
		return
	}

	alerts, err := h.alertService.GetRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Alerts retrieved", alerts, &utils.Meta{Count: len(alerts)})
}

func (h *AlertHandler) GetMyAlerts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	alerts, total, err := h.alertService.GetUserAlerts(c.Request.Context(), userID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Alerts retrieved", alerts, &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
	})
}

func (h *AlertHandler) GetAlert(c *gin.Context) {
	alertID, ok := pathObjectID(c, "id", "alert")
	if !ok {
		return
	}

	alert, err := h.alertService.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Alert retrieved", alert)
}

// UpdateAlertStatus lets the reporter resolve an alert or mark it a false alarm
func (h *AlertHandler) UpdateAlertStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	alertID, ok := pathObjectID(c, "id", "alert")
	if !ok {
		return
	}

	var req models.UpdateAlertStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.alertService.UpdateAlertStatus(c.Request.Context(), userID, alertID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, "Alert status updated", alert)
}
