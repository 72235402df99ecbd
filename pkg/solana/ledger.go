package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/domain"
)

// JSON-RPC error codes for transactions the cluster refuses outright.
const (
	rpcCodeSimulationFailed      = -32002
	rpcCodeSignatureVerification = -32003
)

// Ledger is the Solana RPC side of the engine: broadcast, signature status and
// vault holdings.
type Ledger struct {
	client        *rpc.Client
	statusTimeout time.Duration
}

// NewLedger creates a ledger client for an RPC endpoint.
func NewLedger(endpoint string, statusTimeout time.Duration) *Ledger {
	if statusTimeout <= 0 {
		statusTimeout = 2 * time.Second
	}
	return &Ledger{
		client:        rpc.New(endpoint),
		statusTimeout: statusTimeout,
	}
}

// Submit broadcasts a signed transaction with preflight. A preflight or signature
// failure is reported as domain.ErrTransactionRejected; any other error is ambiguous.
func (l *Ledger) Submit(ctx context.Context, tx domain.SignedTransaction) (string, error) {
	maxRetries := uint(3)
	sig, err := l.client.SendRawTransactionWithOpts(ctx, tx.Raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == rpcCodeSimulationFailed || rpcErr.Code == rpcCodeSignatureVerification) {
			return "", fmt.Errorf("%w: %s", domain.ErrTransactionRejected, rpcErr.Message)
		}
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig.String(), nil
}

// GetConfirmationStatus queries the cluster for a signature, including history.
func (l *Ledger) GetConfirmationStatus(ctx context.Context, signature string) (domain.ConfirmationResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return domain.ConfirmationResult{}, fmt.Errorf("invalid signature format: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.statusTimeout)
	defer cancel()

	res, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return domain.ConfirmationResult{}, fmt.Errorf("failed to get signature status: %w", err)
	}
	return statusFromRPC(signature, res), nil
}

func statusFromRPC(signature string, res *rpc.GetSignatureStatusesResult) domain.ConfirmationResult {
	out := domain.ConfirmationResult{Signature: signature, Status: domain.LedgerNotFound}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return out
	}
	status := res.Value[0]
	if status.Err != nil {
		errJSON, _ := json.Marshal(status.Err)
		out.Status = domain.LedgerFailed
		out.Reason = string(errJSON)
		return out
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		out.Status = domain.LedgerConfirmed
	default:
		out.Status = domain.LedgerPending
	}
	return out
}

type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// GetHoldings returns native SOL (as the wrapped SOL mint) plus every non-empty
// SPL token balance of the vault, summed per mint.
func (l *Ledger) GetHoldings(ctx context.Context, vault string) ([]domain.Holding, error) {
	owner, err := solana.PublicKeyFromBase58(vault)
	if err != nil {
		return nil, fmt.Errorf("invalid vault address: %w", err)
	}

	bal, err := l.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("get SOL balance: %w", err)
	}

	byMint := map[string]*domain.Holding{
		solana.SolMint.String(): {Mint: solana.SolMint.String(), Amount: bal.Value, Decimals: 9},
	}
	order := []string{solana.SolMint.String()}

	resp, err := l.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed, Commitment: rpc.CommitmentConfirmed},
	)
	if err != nil {
		return nil, fmt.Errorf("get token accounts: %w", err)
	}

	for _, acc := range resp.Value {
		if acc.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acc.Account.Data.GetRawJSON(), &parsed); err != nil {
			log.WithField("account", acc.Pubkey.String()).Warnf("skip unparsable token account: %v", err)
			continue
		}
		info := parsed.Parsed.Info
		amt, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil || amt == 0 {
			continue
		}
		h, ok := byMint[info.Mint]
		if !ok {
			h = &domain.Holding{Mint: info.Mint, Decimals: info.TokenAmount.Decimals}
			byMint[info.Mint] = h
			order = append(order, info.Mint)
		}
		h.Amount += amt
	}

	out := make([]domain.Holding, 0, len(order))
	for _, m := range order {
		out = append(out, *byMint[m])
	}
	return out, nil
}
