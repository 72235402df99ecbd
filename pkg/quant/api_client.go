// Package quant fetches target allocations from the upstream quantitative engine.
package quant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rebalancer/internal/domain"
)

// Client represents a quant engine API client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quant engine API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				IdleConnTimeout:       10 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// AllocationResponse is the payload of GET /allocations/{userId}.
type AllocationResponse struct {
	UserID      string             `json:"user_id"`
	Allocations map[string]float64 `json:"allocations"`
	Confidence  float64            `json:"confidence"`
	SignalID    string             `json:"signal_id"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// GetTargetAllocation implements domain.AllocationSource.
func (c *Client) GetTargetAllocation(ctx context.Context, userID string) (domain.TargetAllocation, error) {
	u, err := url.Parse(fmt.Sprintf("%s/allocations/%s", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return domain.TargetAllocation{}, fmt.Errorf("failed to parse URL: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Add("api-key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.TargetAllocation{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TargetAllocation{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TargetAllocation{}, fmt.Errorf("API request failed with status code: %d", resp.StatusCode)
	}

	var body AllocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.TargetAllocation{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(body.Allocations) == 0 {
		return domain.TargetAllocation{}, fmt.Errorf("empty allocation for user %s", userID)
	}

	generated := body.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	return domain.TargetAllocation{
		UserID:      userID,
		Assets:      body.Allocations,
		Confidence:  body.Confidence,
		SignalID:    body.SignalID,
		GeneratedAt: generated,
	}, nil
}
