package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/statemachine"
)

// BotHandler exposes the bot registry over HTTP.
type BotHandler struct {
	Registry *statemachine.Registry
}

func NewBotHandler(reg *statemachine.Registry) *BotHandler {
	return &BotHandler{Registry: reg}
}

// InitializeBot creates an IDLE bot, or returns the existing one
func (h *BotHandler) InitializeBot(c *gin.Context) {
	var req InitializeBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.Registry.InitializeBotState(c.Request.Context(), req.UserID, req.VaultAddress)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListBots returns every bot
func (h *BotHandler) ListBots(c *gin.Context) {
	bots, err := h.Registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total": len(bots),
		"data":  bots,
	})
}

// GetBotState returns the most recently updated bot of a user
func (h *BotHandler) GetBotState(c *gin.Context) {
	snap, err := h.Registry.GetBotState(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetBot returns one bot by user and vault
func (h *BotHandler) GetBot(c *gin.Context) {
	snap, err := h.Registry.Get(c.Request.Context(), keyFromPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ProcessEvent applies an operator event. Events the trading cycle raises itself are
// refused with 409, as is a transition the current state does not accept. Resume and
// recovery go through reconciliation so a trade in flight is picked up again.
func (h *BotHandler) ProcessEvent(c *gin.Context) {
	var req ProcessEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event := domain.Event(req.Event)
	if !event.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event " + req.Event})
		return
	}

	ctx := c.Request.Context()
	key := keyFromPath(c)
	var (
		snap statemachine.BotStateContext
		err  error
	)
	switch event {
	case domain.EventManualPause, domain.EventSystemError:
		snap, err = h.Registry.ProcessEvent(ctx, key, event, req.Meta)
	case domain.EventManualResume:
		snap, err = h.Registry.Resume(ctx, key)
	case domain.EventRecoveryInitiated:
		snap, err = h.Registry.Get(ctx, key)
		if err != nil {
			break
		}
		if _, err = statemachine.Next(snap.CurrentState, event); err != nil {
			break
		}
		if _, err = h.Registry.PerformRecovery(ctx, key.UserID, key.VaultAddress); err != nil {
			break
		}
		snap, err = h.Registry.Get(ctx, key)
	default:
		h.conflict(c, key, "event "+req.Event+" is raised by the trading cycle")
		return
	}
	if errors.Is(err, statemachine.ErrInvalidTransition) {
		h.conflict(c, key, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// conflict answers 409 with the bot's current state.
func (h *BotHandler) conflict(c *gin.Context, key statemachine.Key, msg string) {
	snap, err := h.Registry.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": msg, "state": snap})
}

func (h *BotHandler) Pause(c *gin.Context) {
	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator"
	}
	snap, err := h.Registry.Pause(c.Request.Context(), keyFromPath(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *BotHandler) Resume(c *gin.Context) {
	snap, err := h.Registry.Resume(c.Request.Context(), keyFromPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *BotHandler) Enable(c *gin.Context)  { h.setEnabled(c, true) }
func (h *BotHandler) Disable(c *gin.Context) { h.setEnabled(c, false) }

func (h *BotHandler) setEnabled(c *gin.Context, enabled bool) {
	snap, err := h.Registry.SetEnabled(c.Request.Context(), keyFromPath(c), enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Recover runs on-demand reconciliation for one bot
func (h *BotHandler) Recover(c *gin.Context) {
	key := keyFromPath(c)
	status, err := h.Registry.PerformRecovery(c.Request.Context(), key.UserID, key.VaultAddress)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": key.UserID, "vault": key.VaultAddress}).Error("on-demand recovery failed")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// RunCycle triggers one trading cycle outside the schedule
func (h *BotHandler) RunCycle(c *gin.Context) {
	res, err := h.Registry.RunCycle(c.Request.Context(), keyFromPath(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
