package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rebalancer/internal/risk"
)

// KillSwitchHandler exposes the global trading halt.
type KillSwitchHandler struct {
	KillSwitch *risk.KillSwitch
}

func NewKillSwitchHandler(ks *risk.KillSwitch) *KillSwitchHandler {
	return &KillSwitchHandler{KillSwitch: ks}
}

func (h *KillSwitchHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.KillSwitch.Status())
}

// Activate halts trading; activation hooks pause every bot
func (h *KillSwitchHandler) Activate(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	h.KillSwitch.Activate(req.Reason)
	c.JSON(http.StatusOK, h.KillSwitch.Status())
}

// Deactivate lifts the halt. Paused bots stay paused until resumed.
func (h *KillSwitchHandler) Deactivate(c *gin.Context) {
	h.KillSwitch.Deactivate()
	c.JSON(http.StatusOK, h.KillSwitch.Status())
}
