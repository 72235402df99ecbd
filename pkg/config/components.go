package config

import (
	"rebalancer/internal/recovery"
	"rebalancer/internal/risk"
	"rebalancer/internal/signal"
	"rebalancer/internal/statemachine"
	"rebalancer/pkg/logger"
)

func (s Settings) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      s.LogLevel,
		Format:     s.LogFormat,
		File:       s.LogFile,
		MaxSizeMB:  s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		MaxAgeDays: s.LogMaxAgeDays,
	}
}

func (s Settings) StateMachineConfig() statemachine.Config {
	return statemachine.Config{
		ConfirmationTimeout: s.ConfirmationTimeout,
		MaxRetries:          s.MaxRetries,
		BackoffBase:         s.BackoffBase,
		IdempotencyBucket:   s.IdempotencyBucket,
	}
}

func (s Settings) RecoveryConfig() recovery.Config {
	return recovery.Config{
		StaleAfter:    s.RecoveryStaleAfter,
		Lookback:      s.RecoveryLookback,
		MaxWindow:     s.RecoveryMaxWindow,
		OrphanAfter:   s.RecoveryOrphanAfter,
		Timeout:       s.RecoveryTimeout,
		StatusTimeout: s.StatusTimeout,
		Retention:     s.TradeRetention,
	}
}

func (s Settings) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionPct:    s.RiskMaxPositionPct,
		MaxDrawdownPct:    s.RiskMaxDrawdownPct,
		MaxPriceImpactPct: s.RiskMaxPriceImpactPct,
		MaxSlippageBps:    s.RiskMaxSlippageBps,
		DrawdownLookback:  s.DrawdownLookback,
		QuoteTimeout:      s.QuoteTimeout,
	}
}

func (s Settings) SignalConfig() signal.Config {
	return signal.Config{
		MinDiscrepancy: s.SignalMinDiscrepancy,
		MinConfidence:  s.SignalMinConfidence,
		MaxOutstanding: s.SignalMaxOutstanding,
		StableMint:     s.USDCMint,
	}
}
