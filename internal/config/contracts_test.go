package config

import (
	"os"
	"path/filepath"
	"testing"

	"nvct-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUsesCurrentNetworkWhenOmitted(t *testing.T) {
	r, err := NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	addr, err := r.Resolve(models.ContractSettlement, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xE4Ea76E830D1A10df277b9d3a1824f216f8f1A5a", addr)
}

func TestResolveMainnetUnsetIsNotFound(t *testing.T) {
	r, err := NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	mainnet := models.NetworkMainnet
	_, err = r.Resolve(models.ContractSettlement, &mainnet)
	assert.ErrorIs(t, err, ErrContractNotFound)
}

func TestResolveFallsBackToTestnetForUnconfiguredNetwork(t *testing.T) {
	r, err := NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	unknown := models.Network("devnet")
	addr, err := r.Resolve(models.ContractNVCToken, &unknown)
	require.NoError(t, err)
	assert.Equal(t, "0xA4Bc40Dd1F6d56D5EF6EE6D5C8Fe6c2fE10caa4C", addr)
}

func TestResolveUnknownContract(t *testing.T) {
	r, err := NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	_, err = r.Resolve("treasury", nil)
	assert.ErrorIs(t, err, ErrContractNotFound)
}

func TestUpdatePersistsAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")

	r, err := NewContractRegistry(path, models.NetworkTestnet)
	require.NoError(t, err)

	require.NoError(t, r.Update(models.NetworkMainnet, models.ContractSettlement, "0x1111111111111111111111111111111111111111"))
	require.NoError(t, r.Update(models.NetworkMainnet, models.ContractSettlement, "0x2222222222222222222222222222222222222222"))
	// same value twice is a no-op overwrite
	require.NoError(t, r.Update(models.NetworkMainnet, models.ContractSettlement, "0x2222222222222222222222222222222222222222"))

	reloaded, err := NewContractRegistry(path, models.NetworkTestnet)
	require.NoError(t, err)

	mainnet := models.NetworkMainnet
	addr, err := reloaded.Resolve(models.ContractSettlement, &mainnet)
	require.NoError(t, err)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", addr)

	// testnet defaults survive the round trip
	testnet := models.NetworkTestnet
	addr, err = reloaded.Resolve(models.ContractNVCToken, &testnet)
	require.NoError(t, err)
	assert.Equal(t, "0xA4Bc40Dd1F6d56D5EF6EE6D5C8Fe6c2fE10caa4C", addr)
}

func TestSetCurrentNetworkIsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")

	r, err := NewContractRegistry(path, models.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, models.NetworkTestnet, r.CurrentNetwork())

	require.NoError(t, r.SetCurrentNetwork(models.NetworkMainnet, "admin"))
	assert.Equal(t, models.NetworkMainnet, r.CurrentNetwork())

	reloaded, err := NewContractRegistry(path, models.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, models.NetworkMainnet, reloaded.CurrentNetwork())
}

func TestMainnetEnvOverride(t *testing.T) {
	t.Setenv("NVC_TOKEN_MAINNET", "0x3333333333333333333333333333333333333333")

	r, err := NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)

	mainnet := models.NetworkMainnet
	addr, err := r.Resolve(models.ContractNVCToken, &mainnet)
	require.NoError(t, err)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", addr)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("networks: [not, a, map"), 0o600))

	_, err := NewContractRegistry(path, models.NetworkTestnet)
	assert.Error(t, err)
}

func TestNetworksSnapshotMarksCurrent(t *testing.T) {
	r, err := NewContractRegistry("", models.NetworkMainnet)
	require.NoError(t, err)

	summaries := r.Networks()
	require.Len(t, summaries, 2)
	assert.Equal(t, models.NetworkMainnet, summaries[0].Network)
	assert.True(t, summaries[0].Current)
	assert.False(t, summaries[1].Current)
}
