package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueues(t *testing.T) {
	q, err := ParseQueues("bot_commands")
	require.NoError(t, err)
	assert.Equal(t, []string{CommandQueue}, q)

	q, err = ParseQueues(" bot_transitions , bot_commands ")
	require.NoError(t, err)
	assert.Equal(t, []string{TransitionQueue, CommandQueue}, q)

	q, err = ParseQueues("all")
	require.NoError(t, err)
	assert.Equal(t, Queues, q)

	_, err = ParseQueues("orders")
	assert.ErrorContains(t, err, `unknown queue "orders"`)

	_, err = ParseQueues(" , ")
	assert.Error(t, err)
}

func TestPurgeQueueWithoutConnection(t *testing.T) {
	prev := RabbitMQ
	RabbitMQ = nil
	t.Cleanup(func() { RabbitMQ = prev })

	assert.EqualError(t, PurgeQueue(CommandQueue), "RabbitMQ connection not initialized")
}
