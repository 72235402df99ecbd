package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Global HTTP client with connection pooling for better performance
var (
	rpcCheckClient *http.Client
	clientOnce     sync.Once
)

// getRPCClient returns a shared HTTP client with optimized settings
func getRPCClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
		rpcCheckClient = &http.Client{
			Transport: transport,
			Timeout:   2 * time.Second,
		}
	})
	return rpcCheckClient
}

// RPCRequest represents a JSON-RPC request
type RPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC response
type RPCResponse struct {
	Jsonrpc string           `json:"jsonrpc"`
	Result  interface{}      `json:"result"`
	Error   *json.RawMessage `json:"error"`
	ID      int              `json:"id"`
}

// RPCCheckResult represents the result of checking an RPC endpoint
type RPCCheckResult struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckRPC calls getHealth on the endpoint.
func CheckRPC(ctx context.Context, url string) RPCCheckResult {
	start := time.Now()
	fail := func(err string) RPCCheckResult {
		return RPCCheckResult{URL: url, OK: false, Latency: time.Since(start), Error: err}
	}

	body, _ := json.Marshal(RPCRequest{Jsonrpc: "2.0", ID: 1, Method: "getHealth", Params: []interface{}{}})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := getRPCClient().Do(httpReq)
	if err != nil {
		return fail(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("status code: %d", resp.StatusCode))
	}

	var result RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fail(err.Error())
	}
	if result.Error != nil {
		return fail(fmt.Sprintf("rpc error: %s", string(*result.Error)))
	}
	return RPCCheckResult{URL: url, OK: true, Latency: time.Since(start)}
}
