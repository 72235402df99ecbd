package main

import (
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/gagliardetto/solana-go"

	mcsolana "rebalancer/pkg/solana"
)

var errNoPassword = errors.New("keystore password is empty, set KEYSTORE_PASSWORD or -password")

// generateEntry creates a fresh delegate key and returns its address.
func generateEntry(km *mcsolana.KeyManager, password string) (string, error) {
	if password == "" {
		return "", errNoPassword
	}
	account, err := km.GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("generate key pair: %w", err)
	}
	if err := km.SaveKeyStoreEntry(account, password); err != nil {
		return "", err
	}
	return account.PublicKey.ToBase58(), nil
}

// importEntry stores an existing base58 secret key.
func importEntry(km *mcsolana.KeyManager, secret, password string) (string, error) {
	if password == "" {
		return "", errNoPassword
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return "", fmt.Errorf("parse secret key: %w", err)
	}
	account, err := types.AccountFromBytes(key)
	if err != nil {
		return "", fmt.Errorf("parse secret key: %w", err)
	}
	if err := km.SaveKeyStoreEntry(&account, password); err != nil {
		return "", err
	}
	return account.PublicKey.ToBase58(), nil
}

// checkEntry decrypts the entry for address the way the signer does.
func checkEntry(km *mcsolana.KeyManager, address, password string) error {
	_, err := km.SigningKey(address, password)
	return err
}
