package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"rebalancer/internal/models"
	"rebalancer/internal/recovery"
)

func renderStatuses(w io.Writer, statuses []recovery.RecoveryStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"User", "Vault", "From", "To", "Confirmed", "Failed", "Pending", "Orphaned", "Partial", "Took"})
	for _, s := range statuses {
		t.AppendRow(table.Row{
			s.UserID, s.VaultAddress, s.PreviousState, s.RecoveredState,
			s.TradesConfirmed, s.TradesFailed, s.TradesPending, s.JobsOrphaned,
			s.Partial, s.Duration.Round(time.Millisecond),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Bots", len(statuses)})
	t.Render()
}

func renderBots(w io.Writer, states []models.BotState) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"User", "Vault", "State", "Enabled", "Retries", "Trade", "Error", "Updated"})
	for _, s := range states {
		trade := ""
		if s.CurrentTradeID != nil {
			trade = *s.CurrentTradeID
		}
		t.AppendRow(table.Row{
			s.UserID, s.VaultAddress, s.CurrentState, s.Enabled, s.RetryCount,
			trade, s.ErrorMessage, s.LastUpdated.Format(time.RFC3339),
		})
	}
	t.Render()
}
