package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rebalancer/internal/store"
)

// TradeHandler serves read-only trade and audit history.
type TradeHandler struct {
	Store store.Store
}

func NewTradeHandler(st store.Store) *TradeHandler {
	return &TradeHandler{Store: st}
}

// ListTrades returns a user's newest trades
func (h *TradeHandler) ListTrades(c *gin.Context) {
	limit := limitParam(c)
	trades, err := h.Store.ListTrades(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit": limit,
		"data":  trades,
	})
}

// ListAuditLogs returns a user's newest transition records
func (h *TradeHandler) ListAuditLogs(c *gin.Context) {
	limit := limitParam(c)
	logs, err := h.Store.ListAuditLogs(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit": limit,
		"data":  logs,
	})
}
