package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcsolana "rebalancer/pkg/solana"
)

func TestGenerateEntry(t *testing.T) {
	dir := t.TempDir()
	km := mcsolana.NewKeyManager(dir)

	address, err := generateEntry(km, "secret")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, address+".json"))

	key, err := km.SigningKey(address, "secret")
	require.NoError(t, err)
	assert.Equal(t, address, key.PublicKey().String())

	assert.NoError(t, checkEntry(km, address, "secret"))
	assert.Error(t, checkEntry(km, address, "wrong"))
}

func TestImportEntry(t *testing.T) {
	km := mcsolana.NewKeyManager(t.TempDir())
	want, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	address, err := importEntry(km, want.String(), "secret")
	require.NoError(t, err)
	assert.Equal(t, want.PublicKey().String(), address)

	key, err := km.SigningKey(address, "secret")
	require.NoError(t, err)
	assert.Equal(t, want, key)

	_, err = importEntry(km, "not-a-key", "secret")
	assert.Error(t, err)
}

func TestEmptyPasswordIsRefused(t *testing.T) {
	dir := t.TempDir()
	km := mcsolana.NewKeyManager(dir)

	_, err := generateEntry(km, "")
	assert.ErrorIs(t, err, errNoPassword)

	want, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	_, err = importEntry(km, want.String(), "")
	assert.ErrorIs(t, err, errNoPassword)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
