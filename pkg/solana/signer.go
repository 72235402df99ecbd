package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"rebalancer/internal/domain"
	"rebalancer/pkg/jupiter"
)

// SwapTransactionSource serializes an unsigned swap transaction for a quote.
type SwapTransactionSource interface {
	BuildSwapTransaction(ctx context.Context, quote json.RawMessage, userPublicKey string) (*jupiter.SwapResponse, error)
}

// KeyLoader returns the signing key of a vault.
type KeyLoader func(vault string) (solana.PrivateKey, error)

// KeystoreLoader loads vault keys from a KeyManager with one password.
func KeystoreLoader(km *KeyManager, password string) KeyLoader {
	return func(vault string) (solana.PrivateKey, error) {
		return km.SigningKey(vault, password)
	}
}

// SwapSigner builds swap transactions through Jupiter and signs them with the
// vault's delegate key. It implements domain.SwapBuilder.
type SwapSigner struct {
	source SwapTransactionSource
	load   KeyLoader

	mu   sync.Mutex
	keys map[string]solana.PrivateKey
}

// NewSwapSigner creates a signer.
func NewSwapSigner(source SwapTransactionSource, load KeyLoader) *SwapSigner {
	return &SwapSigner{source: source, load: load, keys: make(map[string]solana.PrivateKey)}
}

func (s *SwapSigner) key(vault string) (solana.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[vault]; ok {
		return k, nil
	}
	k, err := s.load(vault)
	if err != nil {
		return nil, fmt.Errorf("load signing key for %s: %w", vault, err)
	}
	s.keys[vault] = k
	return k, nil
}

// BuildSwap returns the signed transaction. Its signature is final and can be
// persisted before broadcast.
func (s *SwapSigner) BuildSwap(ctx context.Context, intent domain.AuthorizedIntent) (domain.SignedTransaction, error) {
	key, err := s.key(intent.VaultAddress)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	signer := key.PublicKey()

	resp, err := s.source.BuildSwapTransaction(ctx, intent.Quote.Raw, signer.String())
	if err != nil {
		return domain.SignedTransaction{}, err
	}

	data, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("parse swap transaction: %w", err)
	}

	// Jupiter returns zeroed placeholder signatures; Sign appends.
	tx.Signatures = nil
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(signer) {
			return &key
		}
		return nil
	}); err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("serialize swap transaction: %w", err)
	}
	return domain.SignedTransaction{
		Signature:            tx.Signatures[0].String(),
		Raw:                  raw,
		LastValidBlockHeight: resp.LastValidBlockHeight,
	}, nil
}
