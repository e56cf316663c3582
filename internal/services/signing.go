package services

import (
	"crypto/ecdsa"
	"fmt"
	"sort"
	"strings"
	"sync"

	"nvct-backend/internal/config"
	"nvct-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// ===== 签名策略（Strategy 模式）=====

// SigningStrategy signs transaction digests for one managed account
type SigningStrategy interface {
	Address() common.Address
	Sign(digest []byte) ([]byte, error)
	Name() string
}

// PrivateKeySigningStrategy signs with an in-process secp256k1 key
type PrivateKeySigningStrategy struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigningStrategy parses a hex key, with or without 0x prefix
func NewPrivateKeySigningStrategy(hexKey string) (*PrivateKeySigningStrategy, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigningStrategy{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *PrivateKeySigningStrategy) Address() common.Address {
	return s.address
}

func (s *PrivateKeySigningStrategy) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

func (s *PrivateKeySigningStrategy) Name() string {
	return "PrivateKey"
}

// Keyring managed sender accounts per network. The first key of a network is its
// default sender.
type Keyring struct {
	signers  map[models.Network]map[common.Address]SigningStrategy
	defaults map[models.Network]common.Address
	mu       sync.RWMutex
}

func NewKeyring() *Keyring {
	return &Keyring{
		signers:  make(map[models.Network]map[common.Address]SigningStrategy),
		defaults: make(map[models.Network]common.Address),
	}
}

// NewKeyringFromConfig loads every configured private key. Invalid keys fail the load.
func NewKeyringFromConfig(networks map[string]config.NetworkConfig) (*Keyring, error) {
	keyring := NewKeyring()
	for name, networkConfig := range networks {
		network, err := models.ParseNetwork(name)
		if err != nil {
			continue
		}
		for i, hexKey := range networkConfig.PrivateKeys {
			strategy, err := NewPrivateKeySigningStrategy(hexKey)
			if err != nil {
				return nil, fmt.Errorf("network %s key #%d: %w", network, i, err)
			}
			keyring.Add(network, strategy)
		}
		if n := len(networkConfig.PrivateKeys); n > 0 {
			logrus.Infof("🔑 [Keyring] %d signing key(s) loaded for %s", n, network)
		}
	}
	return keyring, nil
}

// Add registers a signer for network
func (k *Keyring) Add(network models.Network, strategy SigningStrategy) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.signers[network] == nil {
		k.signers[network] = make(map[common.Address]SigningStrategy)
		k.defaults[network] = strategy.Address()
	}
	k.signers[network][strategy.Address()] = strategy
}

// Signer returns the strategy for sender on network
func (k *Keyring) Signer(network models.Network, sender common.Address) (SigningStrategy, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	strategy, exists := k.signers[network][sender]
	if !exists {
		return nil, fmt.Errorf("%w: %s on %s", ErrSignerUnavailable, sender.Hex(), network)
	}
	return strategy, nil
}

// DefaultSender the first account loaded for network
func (k *Keyring) DefaultSender(network models.Network) (common.Address, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	sender, exists := k.defaults[network]
	if !exists {
		return common.Address{}, fmt.Errorf("%w: no managed account on %s", ErrSignerUnavailable, network)
	}
	return sender, nil
}

// Accounts managed addresses of network, sorted
func (k *Keyring) Accounts(network models.Network) []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()

	accounts := make([]common.Address, 0, len(k.signers[network]))
	for addr := range k.signers[network] {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Hex() < accounts[j].Hex()
	})
	return accounts
}
