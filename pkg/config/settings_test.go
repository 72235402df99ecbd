package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rebalancer/internal/recovery"
	"rebalancer/internal/risk"
	"rebalancer/internal/signal"
	"rebalancer/internal/statemachine"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIRMATION_TIMEOUT", "")
	t.Setenv("MAX_RETRIES", "")
	s := Load()

	assert.Equal(t, 30*time.Second, s.ConfirmationTimeout)
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 2.0, s.BackoffBase)
	assert.Equal(t, 5*time.Minute, s.IdempotencyBucket)
	assert.Equal(t, 50.0, s.RiskMaxPositionPct)
	assert.Equal(t, 20.0, s.RiskMaxDrawdownPct)
	assert.Equal(t, 1.0, s.RiskMaxPriceImpactPct)
	assert.Equal(t, 100.0, s.RiskMaxSlippageBps)
	assert.Equal(t, 0.8, s.SignalMinConfidence)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIRMATION_TIMEOUT", "45s")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_BACKOFF_BASE", "3")
	t.Setenv("TRADING_HALTED", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("IDEMPOTENCY_BUCKET", "not-a-duration")

	s := Load()
	assert.Equal(t, 45*time.Second, s.ConfirmationTimeout)
	assert.Equal(t, 5, s.MaxRetries)
	assert.Equal(t, 3.0, s.BackoffBase)
	assert.True(t, s.TradingHalted)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, s.IdempotencyBucket, "invalid values fall back to the default")
}

func TestDefaultsMatchComponentDefaults(t *testing.T) {
	s := Load()

	assert.Equal(t, statemachine.DefaultConfig(), s.StateMachineConfig())
	assert.Equal(t, recovery.DefaultConfig(), s.RecoveryConfig())
	assert.Equal(t, risk.DefaultLimits(), s.RiskLimits())

	sig := s.SignalConfig()
	assert.Equal(t, s.USDCMint, sig.StableMint)
	sig.StableMint = ""
	assert.Equal(t, signal.DefaultConfig(), sig)
}
