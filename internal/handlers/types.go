package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rebalancer/internal/statemachine"
	"rebalancer/internal/store"
)

// InitializeBotRequest is the body of POST /bots.
type InitializeBotRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	VaultAddress string `json:"vault_address" binding:"required"`
}

// ProcessEventRequest is the body of POST /bots/:user_id/:vault/events.
type ProcessEventRequest struct {
	Event string         `json:"event" binding:"required"`
	Meta  map[string]any `json:"meta"`
}

// ReasonRequest carries an optional operator reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

func keyFromPath(c *gin.Context) statemachine.Key {
	return statemachine.Key{UserID: c.Param("user_id"), VaultAddress: c.Param("vault")}
}

// 获取 limit 参数，默认 50，最大 500
func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
	case errors.Is(err, statemachine.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
