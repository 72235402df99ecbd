package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings holds every tunable of the engine. Values come from the environment,
// optionally seeded from a .env file.
type Settings struct {
	Port           string
	AllowedOrigins []string
	StoreMode      string

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	SolanaRPC     string
	SolanaWSS     string
	JupiterURL    string
	QuantURL      string
	QuantAPIKey   string
	KeystoreDir   string
	KeyPassword   string
	USDCMint      string
	PriceMaxAge   time.Duration
	SlippageBps   int
	TradingHalted bool

	ConfirmationTimeout time.Duration
	MaxRetries          int
	BackoffBase         float64
	IdempotencyBucket   time.Duration
	QuoteTimeout        time.Duration
	StatusTimeout       time.Duration

	RecoveryStaleAfter  time.Duration
	RecoveryLookback    time.Duration
	RecoveryMaxWindow   time.Duration
	RecoveryOrphanAfter time.Duration
	RecoveryTimeout     time.Duration
	TradeRetention      time.Duration

	RiskMaxPositionPct    float64
	RiskMaxDrawdownPct    float64
	RiskMaxPriceImpactPct float64
	RiskMaxSlippageBps    float64
	DrawdownLookback      time.Duration

	SignalMinDiscrepancy  float64
	SignalMinConfidence   float64
	SignalMaxOutstanding  int
	AllocationCacheMaxAge time.Duration

	CycleSchedule    string
	SnapshotSchedule string
	SweepSchedule    string

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads an optional .env file and then the environment.
func Load() Settings {
	_ = godotenv.Load()

	return Settings{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		StoreMode:      getEnv("STORE_MODE", "postgres"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getInt("LOG_MAX_AGE_DAYS", 30),

		SolanaRPC:     getEnv("DEFAULT_SOLANA_RPC", "https://api.mainnet-beta.solana.com"),
		SolanaWSS:     getEnv("DEFAULT_SOLANA_WSS", "wss://api.mainnet-beta.solana.com"),
		JupiterURL:    getEnv("JUPITER_API_URL", "https://lite-api.jup.ag"),
		QuantURL:      getEnv("QUANT_API_URL", "http://localhost:9000"),
		QuantAPIKey:   getEnv("QUANT_API_KEY", ""),
		KeystoreDir:   getEnv("KEYSTORE_DIR", "configs/keystore"),
		KeyPassword:   getEnv("KEYSTORE_PASSWORD", ""),
		USDCMint:      getEnv("USDC_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		PriceMaxAge:   getDuration("PRICE_MAX_AGE", 60*time.Second),
		SlippageBps:   getInt("SWAP_SLIPPAGE_BPS", 50),
		TradingHalted: getBool("TRADING_HALTED", false),

		ConfirmationTimeout: getDuration("CONFIRMATION_TIMEOUT", 30*time.Second),
		MaxRetries:          getInt("MAX_RETRIES", 3),
		BackoffBase:         getFloat("RETRY_BACKOFF_BASE", 2),
		IdempotencyBucket:   getDuration("IDEMPOTENCY_BUCKET", 5*time.Minute),
		QuoteTimeout:        getDuration("QUOTE_TIMEOUT", 5*time.Second),
		StatusTimeout:       getDuration("SIGNATURE_STATUS_TIMEOUT", 2*time.Second),

		RecoveryStaleAfter:  getDuration("RECOVERY_STALE_AFTER", 30*time.Second),
		RecoveryLookback:    getDuration("RECOVERY_LOOKBACK", 24*time.Hour),
		RecoveryMaxWindow:   getDuration("RECOVERY_MAX_WINDOW", 5*time.Minute),
		RecoveryOrphanAfter: getDuration("RECOVERY_ORPHAN_AFTER", 10*time.Minute),
		RecoveryTimeout:     getDuration("RECOVERY_TIMEOUT", 60*time.Second),
		TradeRetention:      getDuration("TRADE_RETENTION", 30*24*time.Hour),

		RiskMaxPositionPct:    getFloat("RISK_MAX_POSITION_PCT", 50),
		RiskMaxDrawdownPct:    getFloat("RISK_MAX_DRAWDOWN_PCT", 20),
		RiskMaxPriceImpactPct: getFloat("RISK_MAX_PRICE_IMPACT_PCT", 1),
		RiskMaxSlippageBps:    getFloat("RISK_MAX_SLIPPAGE_BPS", 100),
		DrawdownLookback:      getDuration("DRAWDOWN_LOOKBACK", 30*24*time.Hour),

		SignalMinDiscrepancy:  getFloat("SIGNAL_MIN_DISCREPANCY_PCT", 5),
		SignalMinConfidence:   getFloat("SIGNAL_MIN_CONFIDENCE", 0.8),
		SignalMaxOutstanding:  getInt("SIGNAL_MAX_OUTSTANDING", 3),
		AllocationCacheMaxAge: getDuration("ALLOCATION_CACHE_MAX_AGE", 5*time.Minute),

		CycleSchedule:    getEnv("CYCLE_SCHEDULE", "0 */5 * * * *"),
		SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", "0 */15 * * * *"),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "30 * * * * *"),

		RateLimitPerSecond: getFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
