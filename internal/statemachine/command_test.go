package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
)

func TestHandleCommand(t *testing.T) {
	h := newHarness(t)
	h.init()
	ctx := context.Background()

	t.Run("Pause", func(t *testing.T) {
		require.NoError(t, h.reg.HandleCommand(ctx, []byte(`{"action":"pause","user_id":"user-1","vault_address":"vault-1","reason":"ops"}`)))
		snap, err := h.reg.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StatePaused, snap.CurrentState)
	})

	t.Run("Pause twice is dropped", func(t *testing.T) {
		assert.NoError(t, h.reg.HandleCommand(ctx, []byte(`{"action":"pause","user_id":"user-1","vault_address":"vault-1"}`)))
	})

	t.Run("Resume", func(t *testing.T) {
		require.NoError(t, h.reg.HandleCommand(ctx, []byte(`{"action":"resume","user_id":"user-1","vault_address":"vault-1"}`)))
		snap, err := h.reg.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StateIdle, snap.CurrentState)
	})

	t.Run("Recover", func(t *testing.T) {
		require.NoError(t, h.reg.HandleCommand(ctx, []byte(`{"action":"recover","user_id":"user-1","vault_address":"vault-1"}`)))
		snap, err := h.reg.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StateIdle, snap.CurrentState)
	})

	t.Run("Dropped messages", func(t *testing.T) {
		for _, body := range []string{
			`not json`,
			`{"action":"launch","user_id":"user-1","vault_address":"vault-1"}`,
			`{"action":"pause","user_id":"ghost","vault_address":"vault-x"}`,
		} {
			assert.NoError(t, h.reg.HandleCommand(ctx, []byte(body)), body)
		}
	})
}
