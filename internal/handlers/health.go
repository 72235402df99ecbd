package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	mcsolana "rebalancer/pkg/solana"
)

// HealthHandler reports liveness and, when an RPC endpoint is set, its reachability.
type HealthHandler struct {
	RPCURL string
}

func NewHealthHandler(rpcURL string) *HealthHandler {
	return &HealthHandler{RPCURL: rpcURL}
}

func (h *HealthHandler) Health(c *gin.Context) {
	if h.RPCURL == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	res := mcsolana.CheckRPC(ctx, h.RPCURL)
	if !res.OK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "rpc": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rpc": res})
}
