// Package jupiter talks to the Jupiter swap aggregator: USD prices, exact-in quotes
// and serialized swap transactions.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
)

const DefaultBaseURL = "https://lite-api.jup.ag"

// Client is a Jupiter lite-api client. It implements domain.PriceProvider and
// domain.QuoteProvider.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	quoteTimeout time.Duration
	slippageBps  int
	stableMint   string
	priceMaxAge  time.Duration // zero serves cached prices of any age

	cacheMu    sync.RWMutex
	priceCache map[string]priceCacheEntry
}

type priceCacheEntry struct {
	price     float64
	updatedAt time.Time
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

func WithQuoteTimeout(d time.Duration) Option { return func(cl *Client) { cl.quoteTimeout = d } }

func WithSlippageBps(bps int) Option { return func(cl *Client) { cl.slippageBps = bps } }

// WithStableMint sets the mint priced at exactly 1 USD without a request.
func WithStableMint(mint string) Option { return func(cl *Client) { cl.stableMint = mint } }

// WithPriceMaxAge bounds the age of a cached price served after a failed fetch.
func WithPriceMaxAge(d time.Duration) Option { return func(cl *Client) { cl.priceMaxAge = d } }

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		quoteTimeout: 5 * time.Second,
		slippageBps:  50,
		priceCache:   make(map[string]priceCacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// QuoteResponse is the /swap/v1/quote payload.
type QuoteResponse struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RoutePlan `json:"routePlan"`
	ContextSlot          int64       `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`
}

// RoutePlan represents a route plan in the Jupiter response
type RoutePlan struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
}

// SwapInfo represents swap information in a route plan
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// GetQuote requests an exact-in quote. The price impact reported by Jupiter is a
// fraction and is returned as a percentage.
func (c *Client) GetQuote(ctx context.Context, fromMint, toMint string, amount uint64) (domain.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.quoteTimeout)
	defer cancel()

	params := url.Values{}
	params.Add("inputMint", fromMint)
	params.Add("outputMint", toMint)
	params.Add("amount", strconv.FormatUint(amount, 10))
	params.Add("slippageBps", strconv.Itoa(c.slippageBps))
	params.Add("restrictIntermediateTokens", "true")

	raw, err := c.get(ctx, "/swap/v1/quote?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter quote: %w", err)
	}

	var q QuoteResponse
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("failed to decode quote response: %w", err)
	}

	out, err := strconv.ParseInt(q.OutAmount, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("failed to parse outAmount %q: %w", q.OutAmount, err)
	}
	impact := 0.0
	if q.PriceImpactPct != "" {
		impact, err = strconv.ParseFloat(q.PriceImpactPct, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("failed to parse priceImpactPct %q: %w", q.PriceImpactPct, err)
		}
	}

	return domain.Quote{
		InputMint:    q.InputMint,
		OutputMint:   q.OutputMint,
		InAmount:     amount,
		OutputAmount: out,
		PriceImpact:  impact * 100,
		SlippageBps:  q.SlippageBps,
		Raw:          json.RawMessage(raw),
	}, nil
}

type priceV3Entry struct {
	UsdPrice float64 `json:"usdPrice"`
	Decimals int     `json:"decimals"`
}

// GetCurrentPrice returns the USD price of mint. When the live request fails the
// last cached price is returned with Stale set; with no cache entry the error wraps
// domain.ErrPriceUnavailable.
func (c *Client) GetCurrentPrice(ctx context.Context, mint string) (domain.PriceQuote, error) {
	if c.stableMint != "" && mint == c.stableMint {
		return domain.PriceQuote{Price: 1, UpdatedAt: time.Now().UTC()}, nil
	}

	price, err := c.fetchPrice(ctx, mint)
	if err != nil {
		c.cacheMu.RLock()
		entry, ok := c.priceCache[mint]
		c.cacheMu.RUnlock()
		if ok && c.priceMaxAge > 0 && time.Since(entry.updatedAt) > c.priceMaxAge {
			ok = false
		}
		if ok {
			log.WithFields(log.Fields{"mint": mint, "age": time.Since(entry.updatedAt).String()}).
				Warnf("price fetch failed, serving cached price: %v", err)
			return domain.PriceQuote{Price: entry.price, Stale: true, UpdatedAt: entry.updatedAt}, nil
		}
		return domain.PriceQuote{}, fmt.Errorf("%w: %s: %v", domain.ErrPriceUnavailable, mint, err)
	}

	now := time.Now().UTC()
	c.cacheMu.Lock()
	c.priceCache[mint] = priceCacheEntry{price: price, updatedAt: now}
	c.cacheMu.Unlock()
	return domain.PriceQuote{Price: price, UpdatedAt: now}, nil
}

func (c *Client) fetchPrice(ctx context.Context, mint string) (float64, error) {
	raw, err := c.get(ctx, "/price/v3?ids="+url.QueryEscape(mint))
	if err != nil {
		return 0, err
	}
	var resp map[string]*priceV3Entry
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	entry := resp[mint]
	if entry == nil || entry.UsdPrice <= 0 {
		return 0, fmt.Errorf("no price for %s", mint)
	}
	return entry.UsdPrice, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports,omitempty"`
}

// SwapResponse is the /swap/v1/swap payload.
type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildSwapTransaction asks Jupiter to serialize an unsigned swap transaction for
// the quote, paid and signed by userPublicKey.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote json.RawMessage, userPublicKey string) (*SwapResponse, error) {
	if len(quote) == 0 {
		return nil, fmt.Errorf("jupiter swap: empty quote")
	}
	body, err := json.Marshal(swapRequest{
		QuoteResponse:             quote,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap/v1/swap", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: %w", err)
	}

	var resp SwapResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter swap: empty transaction")
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
