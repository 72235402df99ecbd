package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/internal/domain"
	"rebalancer/pkg/jupiter"
)

type fakeSwapSource struct {
	tx       string
	gotQuote json.RawMessage
	gotUser  string
}

func (f *fakeSwapSource) BuildSwapTransaction(ctx context.Context, quote json.RawMessage, user string) (*jupiter.SwapResponse, error) {
	f.gotQuote = quote
	f.gotUser = user
	return &jupiter.SwapResponse{SwapTransaction: f.tx, LastValidBlockHeight: 99}, nil
}

func unsignedTransfer(t *testing.T, from solana.PublicKey) string {
	t.Helper()
	ix := system.NewTransferInstruction(1000, from, solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(from))
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{}}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSwapSignerSignsWithVaultKey(t *testing.T) {
	wallet := solana.NewWallet()
	vault := wallet.PublicKey().String()
	source := &fakeSwapSource{tx: unsignedTransfer(t, wallet.PublicKey())}

	loads := 0
	signer := NewSwapSigner(source, func(v string) (solana.PrivateKey, error) {
		loads++
		assert.Equal(t, vault, v)
		return wallet.PrivateKey, nil
	})

	intent := domain.AuthorizedIntent{
		TradeIntent: domain.TradeIntent{VaultAddress: vault},
		Quote:       domain.Quote{Raw: json.RawMessage(`{"outAmount":"1"}`)},
	}
	signed, err := signer.BuildSwap(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, vault, source.gotUser)
	assert.JSONEq(t, `{"outAmount":"1"}`, string(source.gotQuote))
	assert.Equal(t, uint64(99), signed.LastValidBlockHeight)

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed.Raw))
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	assert.Equal(t, signed.Signature, tx.Signatures[0].String())
	require.NoError(t, tx.VerifySignatures())

	_, err = signer.BuildSwap(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "keys are cached per vault")
}
