package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
)

// rpcServer answers JSON-RPC calls by method name, echoing the request id.
func rpcServer(t *testing.T, handlers map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, ok := handlers[req.Method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + body + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testSig = solana.Signature{1, 2, 3}.String()

func TestGetConfirmationStatus(t *testing.T) {
	cases := []struct {
		name   string
		result string
		want   domain.LedgerStatus
	}{
		{"finalized", `"result":{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`, domain.LedgerConfirmed},
		{"processed", `"result":{"context":{"slot":1},"value":[{"slot":1,"confirmations":0,"err":null,"confirmationStatus":"processed"}]}`, domain.LedgerPending},
		{"failed", `"result":{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":{"InstructionError":[0,"Custom"]},"confirmationStatus":"confirmed"}]}`, domain.LedgerFailed},
		{"unknown", `"result":{"context":{"slot":1},"value":[null]}`, domain.LedgerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := rpcServer(t, map[string]string{"getSignatureStatuses": tc.result})
			l := NewLedger(srv.URL, time.Second)
			res, err := l.GetConfirmationStatus(context.Background(), testSig)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
			if tc.want == domain.LedgerFailed {
				assert.Contains(t, res.Reason, "InstructionError")
			}
		})
	}
}

func TestSubmitClassifiesPreflightFailure(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"sendTransaction": `"error":{"code":-32002,"message":"Transaction simulation failed: Blockhash not found"}`,
	})
	l := NewLedger(srv.URL, time.Second)
	_, err := l.Submit(context.Background(), domain.SignedTransaction{Raw: []byte{1, 2, 3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransactionRejected), "got %v", err)
}

func TestSubmitAmbiguousError(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"sendTransaction": `"error":{"code":-32005,"message":"Node is behind"}`,
	})
	l := NewLedger(srv.URL, time.Second)
	_, err := l.Submit(context.Background(), domain.SignedTransaction{Raw: []byte{1, 2, 3}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTransactionRejected))
}

func TestSubmitReturnsSignature(t *testing.T) {
	srv := rpcServer(t, map[string]string{"sendTransaction": `"result":"` + testSig + `"`})
	l := NewLedger(srv.URL, time.Second)
	sig, err := l.Submit(context.Background(), domain.SignedTransaction{Raw: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, testSig, sig)
}

func TestCheckRPC(t *testing.T) {
	srv := rpcServer(t, map[string]string{"getHealth": `"result":"ok"`})
	res := CheckRPC(context.Background(), srv.URL)
	assert.True(t, res.OK, res.Error)
}
