package statemachine

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/store"
)

// Operator command actions accepted on the command queue.
const (
	CommandPause   = "pause"
	CommandResume  = "resume"
	CommandRecover = "recover"
)

// Command is an operator instruction delivered through the broker.
type Command struct {
	Action       string `json:"action"`
	UserID       string `json:"user_id"`
	VaultAddress string `json:"vault_address"`
	Reason       string `json:"reason,omitempty"`
}

// HandleCommand applies one queued command. Malformed messages, unknown bots and
// rejected transitions are dropped; only infrastructure errors are returned so the
// message is redelivered.
func (r *Registry) HandleCommand(ctx context.Context, body []byte) error {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		log.WithError(err).Warn("dropping unparsable command")
		return nil
	}
	logger := log.WithFields(log.Fields{"action": cmd.Action, "user_id": cmd.UserID, "vault": cmd.VaultAddress})
	key := Key{UserID: cmd.UserID, VaultAddress: cmd.VaultAddress}

	var err error
	switch cmd.Action {
	case CommandPause:
		reason := cmd.Reason
		if reason == "" {
			reason = "operator"
		}
		_, err = r.Pause(ctx, key, reason)
	case CommandResume:
		_, err = r.Resume(ctx, key)
	case CommandRecover:
		_, err = r.PerformRecovery(ctx, cmd.UserID, cmd.VaultAddress)
	default:
		logger.Warn("dropping unknown command")
		return nil
	}

	switch {
	case err == nil:
		logger.Info("command applied")
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrInvalidTransition):
		logger.WithError(err).Warn("command rejected")
		return nil
	default:
		return err
	}
}
