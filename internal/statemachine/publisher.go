package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
	"rebalancer/internal/models"
)

// TransitionRecord is published for every applied transition.
type TransitionRecord struct {
	UserID       string         `json:"user_id"`
	VaultAddress string         `json:"vault_address"`
	FromState    domain.State   `json:"from_state"`
	ToState      domain.State   `json:"to_state"`
	Event        domain.Event   `json:"event"`
	Meta         map[string]any `json:"meta,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// TransitionPublisher ships transition records off-process. Failures are logged and
// never block the state machine.
type TransitionPublisher interface {
	PublishTransition(rec TransitionRecord) error
}

// PublisherFunc adapts a function to TransitionPublisher.
type PublisherFunc func(rec TransitionRecord) error

func (f PublisherFunc) PublishTransition(rec TransitionRecord) error { return f(rec) }

// AuditLog converts the record into its durable row.
func (rec TransitionRecord) AuditLog() *models.BotAuditLog {
	return &models.BotAuditLog{
		UserID:       rec.UserID,
		VaultAddress: rec.VaultAddress,
		FromState:    rec.FromState,
		ToState:      rec.ToState,
		Event:        rec.Event,
		Meta:         models.JSONMap(rec.Meta),
		OccurredAt:   rec.OccurredAt,
	}
}

// AuditLogWriter is the part of the store the audit trail needs.
type AuditLogWriter interface {
	CreateAuditLog(ctx context.Context, l *models.BotAuditLog) error
}

// StorePublisher writes audit rows inline. It is used when no broker is configured.
func StorePublisher(w AuditLogWriter) TransitionPublisher {
	return PublisherFunc(func(rec TransitionRecord) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.CreateAuditLog(ctx, rec.AuditLog())
	})
}

// AuditConsumer returns a queue handler that stores published transitions.
// Unparsable messages are dropped; write errors are returned for redelivery.
func AuditConsumer(w AuditLogWriter) func(ctx context.Context, body []byte) error {
	return func(ctx context.Context, body []byte) error {
		var rec TransitionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			log.WithError(err).Warn("dropping unparsable transition")
			return nil
		}
		if err := w.CreateAuditLog(ctx, rec.AuditLog()); err != nil {
			return fmt.Errorf("store audit log: %w", err)
		}
		log.WithFields(log.Fields{
			"user_id": rec.UserID,
			"vault":   rec.VaultAddress,
			"from":    rec.FromState,
			"to":      rec.ToState,
			"event":   rec.Event,
		}).Debug("transition recorded")
		return nil
	}
}
