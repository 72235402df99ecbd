package routes

import (
	"github.com/gin-gonic/gin"

	"rebalancer/internal/handlers"
)

// SetupKillSwitchRoutes sets up the global trading halt routes
func SetupKillSwitchRoutes(r *gin.Engine, h *handlers.KillSwitchHandler) {
	ks := r.Group("/kill-switch")
	{
		ks.GET("", h.Status)
		ks.POST("/activate", h.Activate)
		ks.POST("/deactivate", h.Deactivate)
	}
}
