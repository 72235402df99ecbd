package domain

import (
	"encoding/json"
	"math"
	"time"
)

// IntentMetadata describes why the signal generator proposed an intent.
type IntentMetadata struct {
	CurrentPercentage float64   `json:"current_percentage"`
	Discrepancy       float64   `json:"discrepancy"`
	Confidence        float64   `json:"confidence"`
	Timestamp         time.Time `json:"timestamp"`
	SignalID          string    `json:"signal_id"`
}

// TradeIntent is a proposed rebalancing action before risk approval. It is never persisted.
type TradeIntent struct {
	UserID           string         `json:"user_id"`
	VaultAddress     string         `json:"vault_address"`
	FromAsset        string         `json:"from_asset"`
	ToAsset          string         `json:"to_asset"`
	TargetPercentage float64        `json:"target_percentage"`
	Metadata         IntentMetadata `json:"metadata"`
}

// Quote is an execution quote for an exact input amount. Values come from an
// external provider and must be bounds-checked before use.
type Quote struct {
	InputMint    string          `json:"input_mint"`
	OutputMint   string          `json:"output_mint"`
	InAmount     uint64          `json:"in_amount"`
	OutputAmount int64           `json:"output_amount"`
	PriceImpact  float64         `json:"price_impact"` // percent
	SlippageBps  int             `json:"slippage_bps"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// AuthorizedIntent is the only artifact the state machine may submit.
type AuthorizedIntent struct {
	TradeIntent
	ValidatedAt            time.Time `json:"validated_at"`
	ValidationID           string    `json:"validation_id"`
	ChecksPerformed        []string  `json:"checks_performed"`
	TradeValueUSD          float64   `json:"trade_value_usd"`
	PositionSizePercentage float64   `json:"position_size_percentage"`
	CurrentDrawdown        float64   `json:"current_drawdown"`
	PriceImpact            float64   `json:"price_impact"`
	Slippage               float64   `json:"slippage"`
	AmountIn               uint64    `json:"amount_in"`
	Quote                  Quote     `json:"quote"`
}

// Holding is an on-chain balance of one mint in base units.
type Holding struct {
	Mint     string `json:"mint"`
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// UIAmount converts the base-unit amount to a human amount.
func (h Holding) UIAmount() float64 {
	return float64(h.Amount) / math.Pow10(int(h.Decimals))
}

// ToBaseUnits converts a human amount of this holding's mint to base units, rounding down.
func (h Holding) ToBaseUnits(ui float64) uint64 {
	if ui <= 0 {
		return 0
	}
	return uint64(math.Floor(ui * math.Pow10(int(h.Decimals))))
}

// PriceQuote is a USD price. Stale is set when the provider served a cached value.
type PriceQuote struct {
	Price     float64   `json:"price"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetAllocation is the opaque upstream strategy output: mint -> percentage of vault.
type TargetAllocation struct {
	UserID      string             `json:"user_id"`
	Assets      map[string]float64 `json:"assets"`
	Confidence  float64            `json:"confidence"`
	SignalID    string             `json:"signal_id"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// SignedTransaction is a fully signed transaction ready to broadcast. The signature is
// known before broadcast so it can be persisted first.
type SignedTransaction struct {
	Signature            string `json:"signature"`
	Raw                  []byte `json:"-"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}
