package routes

import (
	"github.com/gin-gonic/gin"

	"rebalancer/internal/handlers"
)

// SetupTradeRoutes sets up read-only history routes
func SetupTradeRoutes(r *gin.Engine, h *handlers.TradeHandler) {
	r.GET("/trades/:user_id", h.ListTrades)
	r.GET("/audit-logs/:user_id", h.ListAuditLogs)
}
