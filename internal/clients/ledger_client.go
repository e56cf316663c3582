package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"nvct-backend/internal/config"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ChainNode the subset of an Ethereum JSON-RPC node the ledger connector talks to.
// *ethclient.Client satisfies it.
type ChainNode interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ ChainNode = (*ethclient.Client)(nil)

// DialTimeout budget for the connectivity check of a single endpoint
const DialTimeout = 10 * time.Second

// DialNodes connects one node per enabled network, trying endpoints in order.
// A network whose endpoints all fail is skipped with a warning; operations on it
// surface ErrNetworkUnconfigured later.
func DialNodes(ctx context.Context, networks map[string]config.NetworkConfig) map[models.Network]*ethclient.Client {
	nodes := make(map[models.Network]*ethclient.Client)

	for name, networkConfig := range networks {
		network, err := models.ParseNetwork(name)
		if err != nil {
			logrus.Warnf("⏭️  [DialNodes] skipping unknown network %q", name)
			continue
		}
		if !networkConfig.Enabled {
			logrus.Infof("⏭️  [DialNodes] network %s disabled", network)
			continue
		}

		client, endpoint, err := dialFirstHealthy(ctx, networkConfig)
		if err != nil {
			metrics.RPCConnectionStatus.WithLabelValues(network.String()).Set(0)
			logrus.WithError(err).Errorf("❌ [DialNodes] all RPC endpoints failed for %s", network)
			continue
		}

		metrics.RPCConnectionStatus.WithLabelValues(network.String()).Set(1)
		logrus.WithFields(logrus.Fields{
			"network":  network,
			"endpoint": endpoint,
			"chain_id": networkConfig.ChainID,
		}).Info("✅ [DialNodes] connected")
		nodes[network] = client
	}

	return nodes
}

func dialFirstHealthy(ctx context.Context, networkConfig config.NetworkConfig) (*ethclient.Client, string, error) {
	if len(networkConfig.RPCEndpoints) == 0 {
		return nil, "", fmt.Errorf("no rpc endpoints configured")
	}

	var lastErr error
	for i, endpoint := range networkConfig.RPCEndpoints {
		logrus.Debugf("   Trying endpoint %d/%d: %s", i+1, len(networkConfig.RPCEndpoints), endpoint)

		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, DialTimeout)
		chainID, err := client.ChainID(checkCtx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			continue
		}
		if networkConfig.ChainID != 0 && chainID.Int64() != networkConfig.ChainID {
			client.Close()
			lastErr = fmt.Errorf("endpoint %s reports chain id %s, expected %d", endpoint, chainID, networkConfig.ChainID)
			continue
		}
		return client, endpoint, nil
	}
	return nil, "", lastErr
}
