package handlers

import (
	"net/http"
	"time"

	"homepro/models"
	"homepro/services/booking"
	"homepro/services/notification"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeviceHandler struct {
	devices notification.DeviceDirectory
}

func NewDeviceHandler(devices notification.DeviceDirectory) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

// RegisterDeviceHandler handles PUT /api/devices: the caller's app reports
// its current FCM token.
func (h *DeviceHandler) RegisterDeviceHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, booking.CodeValidation, "Invalid request", err.Error())
		return
	}
	d := models.Device{
		OwnerID:   p.ID,
		Role:      p.Role,
		DeviceID:  req.DeviceID,
		FCMToken:  req.FCMToken,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.devices.Register(c.Request.Context(), d); err != nil {
		getLogger(c).Error("Failed to register device", zap.String("deviceId", req.DeviceID), zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "internal", "Failed to register device", "")
		return
	}
	c.JSON(http.StatusOK, d)
}
