// Contract address registry per network
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"nvct-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrContractNotFound no address configured for the contract on the resolved network
var ErrContractNotFound = errors.New("contract address not found")

// ContractsFile persisted layout of the registry
type ContractsFile struct {
	Version        string                       `yaml:"version" json:"version"`
	CurrentNetwork string                       `yaml:"current_network,omitempty" json:"current_network,omitempty"`
	Networks       map[string]map[string]string `yaml:"networks" json:"networks"`
}

// DefaultContractAddresses used when no registry file exists yet. Mainnet stays
// empty until deployment fills it in.
func DefaultContractAddresses() map[string]map[string]string {
	return map[string]map[string]string{
		string(models.NetworkTestnet): {
			models.ContractSettlement: "0xE4Ea76E830D1A10df277b9d3a1824f216f8f1A5a",
			models.ContractNVCToken:   "0xA4Bc40Dd1F6d56D5EF6EE6D5C8Fe6c2fE10caa4C",
		},
		string(models.NetworkMainnet): {
			models.ContractSettlement: "",
			models.ContractNVCToken:   "",
		},
	}
}

// mainnetEnvOverrides env vars that fill mainnet addresses at load time
var mainnetEnvOverrides = map[string]string{
	"SETTLEMENT_CONTRACT_MAINNET": models.ContractSettlement,
	"NVC_TOKEN_MAINNET":           models.ContractNVCToken,
}

// ContractRegistry contract address registry and process-wide network selection.
// A single writer at a time; readers take the read lock.
type ContractRegistry struct {
	path           string
	file           ContractsFile
	currentNetwork models.Network
	mu             sync.RWMutex
}

// NewContractRegistry loads the registry from path. An empty path keeps it in memory only.
// The current network comes from the file if persisted, else defaultNetwork.
func NewContractRegistry(path string, defaultNetwork models.Network) (*ContractRegistry, error) {
	r := &ContractRegistry{path: path}

	if err := r.load(); err != nil {
		return nil, err
	}

	for env, contract := range mainnetEnvOverrides {
		if addr := os.Getenv(env); addr != "" {
			r.file.Networks[string(models.NetworkMainnet)][contract] = addr
			logrus.Infof("✅ [Registry] mainnet %s loaded from %s", contract, env)
		}
	}

	r.currentNetwork = defaultNetwork
	if r.file.CurrentNetwork != "" {
		network, err := models.ParseNetwork(r.file.CurrentNetwork)
		if err != nil {
			return nil, fmt.Errorf("invalid current_network in %s: %w", path, err)
		}
		r.currentNetwork = network
	}
	if r.currentNetwork == "" {
		r.currentNetwork = models.NetworkTestnet
	}

	logrus.WithFields(logrus.Fields{
		"path":            path,
		"current_network": r.currentNetwork,
	}).Info("📋 [Registry] contract registry ready")

	return r, nil
}

// load reads the YAML file, falling back to defaults when absent
func (r *ContractRegistry) load() error {
	r.file = ContractsFile{Version: "1.0", Networks: DefaultContractAddresses()}
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("⚠️ [Registry] contract configuration file %s not found, using defaults", r.path)
			return nil
		}
		return fmt.Errorf("failed to read contract configuration: %w", err)
	}

	var file ContractsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse contract configuration: %w", err)
	}
	if file.Networks == nil {
		file.Networks = make(map[string]map[string]string)
	}
	if file.Version == "" {
		file.Version = "1.0"
	}
	// every network keeps a map so overrides and updates never hit nil
	for _, n := range []models.Network{models.NetworkTestnet, models.NetworkMainnet} {
		if file.Networks[string(n)] == nil {
			file.Networks[string(n)] = make(map[string]string)
		}
	}
	r.file = file
	logrus.Infof("✅ [Registry] loaded contract configuration from %s", r.path)
	return nil
}

// save writes the registry atomically. Caller holds the write lock.
func (r *ContractRegistry) save() error {
	if r.path == "" {
		return nil
	}
	data, err := yaml.Marshal(r.file)
	if err != nil {
		return fmt.Errorf("failed to encode contract configuration: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write contract configuration: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace contract configuration: %w", err)
	}
	return nil
}

// Resolve returns the address of contractName. A nil network means the current
// process-wide network; an unconfigured network falls back to testnet.
func (r *ContractRegistry) Resolve(contractName string, network *models.Network) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := r.currentNetwork
	if network != nil {
		target = *network
	}

	contracts, exists := r.file.Networks[string(target)]
	if !exists {
		logrus.Warnf("⚠️ [Registry] network %s not found in contract configuration, using testnet", target)
		target = models.NetworkTestnet
		contracts = r.file.Networks[string(target)]
	}

	address, exists := contracts[contractName]
	if !exists || address == "" {
		return "", fmt.Errorf("%w: %s on %s", ErrContractNotFound, contractName, target)
	}
	return address, nil
}

// Update persists a new address for (network, contractName), overwriting any previous value
func (r *ContractRegistry) Update(network models.Network, contractName, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contracts, exists := r.file.Networks[string(network)]
	if !exists {
		contracts = make(map[string]string)
		r.file.Networks[string(network)] = contracts
	}
	previous := contracts[contractName]
	contracts[contractName] = address

	if err := r.save(); err != nil {
		contracts[contractName] = previous
		return err
	}

	logrus.WithFields(logrus.Fields{
		"network":  network,
		"contract": contractName,
		"address":  address,
		"previous": previous,
	}).Info("✅ [Registry] contract address updated")
	return nil
}

// CurrentNetwork process-wide network selection flag
func (r *ContractRegistry) CurrentNetwork() models.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentNetwork
}

// SetCurrentNetwork explicit administrative switch of the network flag
func (r *ContractRegistry) SetCurrentNetwork(network models.Network, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.currentNetwork
	r.currentNetwork = network
	r.file.CurrentNetwork = string(network)
	if err := r.save(); err != nil {
		r.currentNetwork = previous
		r.file.CurrentNetwork = string(previous)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"previous": previous,
		"current":  network,
		"actor":    actor,
	}).Warn("🔀 [Registry] current network changed")
	return nil
}

// NetworkSummary contract addresses of one network
type NetworkSummary struct {
	Network   models.Network    `json:"network"`
	Current   bool              `json:"current"`
	Contracts map[string]string `json:"contracts"`
}

// Networks snapshot of every configured network, sorted by name
func (r *ContractRegistry) Networks() []NetworkSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.file.Networks))
	for name := range r.file.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]NetworkSummary, 0, len(names))
	for _, name := range names {
		contracts := make(map[string]string, len(r.file.Networks[name]))
		for k, v := range r.file.Networks[name] {
			contracts[k] = v
		}
		result = append(result, NetworkSummary{
			Network:   models.Network(name),
			Current:   models.Network(name) == r.currentNetwork,
			Contracts: contracts,
		})
	}
	return result
}
