package handlers

import (
	"net/http"

	"homepro/utils"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	monitor *utils.HealthMonitor
}

func NewHealthHandler(monitor *utils.HealthMonitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

// HealthHandler handles GET /health with the latest dependency snapshot.
func (h *HealthHandler) HealthHandler(c *gin.Context) {
	status := h.monitor.Status()
	code := http.StatusOK
	if !status.Healthy && !status.CheckedAt.IsZero() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "service": "homepro"})
}
