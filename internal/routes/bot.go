package routes

import (
	"github.com/gin-gonic/gin"

	"rebalancer/internal/handlers"
)

// SetupBotRoutes sets up bot lifecycle routes
func SetupBotRoutes(r *gin.Engine, h *handlers.BotHandler) {
	bots := r.Group("/bots")
	{
		bots.POST("", h.InitializeBot)
		bots.GET("", h.ListBots)
		bots.GET("/:user_id", h.GetBotState)
		bots.GET("/:user_id/:vault", h.GetBot)

		// 状态机操作
		bots.POST("/:user_id/:vault/events", h.ProcessEvent)
		bots.POST("/:user_id/:vault/pause", h.Pause)
		bots.POST("/:user_id/:vault/resume", h.Resume)
		bots.POST("/:user_id/:vault/enable", h.Enable)
		bots.POST("/:user_id/:vault/disable", h.Disable)
		bots.POST("/:user_id/:vault/recover", h.Recover)
		bots.POST("/:user_id/:vault/cycle", h.RunCycle)
	}
}
