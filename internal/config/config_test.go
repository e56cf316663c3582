package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
blockchain:
  defaultNetwork: testnet
  networks:
    testnet:
      chainId: 11155111
      rpcEndpoints: ["http://localhost:8545"]
      enabled: true
      multisig:
        owners: ["0x1", "0x2", "0x3"]
        required: 2
`

func TestLoadConfigAppliesDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	t.Setenv("TESTNET_RPC_ENDPOINTS", "http://a:8545, http://b:8545")
	t.Setenv("TESTNET_PRIVATE_KEYS", "aa,bb")
	t.Setenv("ADMIN_PASSWORD", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 600, cfg.SecurityGate.OperationTTL)
	assert.Equal(t, "memory", cfg.SecurityGate.Store)
	assert.ElementsMatch(t, []string{"settle_payment", "multisig_execute", "contract_update", "token_mint", "token_burn"}, cfg.SecurityGate.HighRiskOperations)

	network, err := cfg.GetNetworkConfig("testnet")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, network.RPCEndpoints)
	assert.Equal(t, []string{"aa", "bb"}, network.PrivateKeys)
	assert.Equal(t, uint64(21000), network.GasLimit)
	assert.Equal(t, uint64(200000), network.SettlementGasLimit)
	assert.Equal(t, 2, network.Multisig.Required)

	assert.Equal(t, "s3cret", cfg.Admin.Password)
	assert.Same(t, cfg, AppConfig)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Blockchain.DefaultNetwork)

	_, err = cfg.GetNetworkConfig("mainnet")
	assert.Error(t, err)
}
