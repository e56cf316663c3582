package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownNetwork network name is neither testnet nor mainnet
var ErrUnknownNetwork = errors.New("unknown network")

// Network identifies the chain an operation targets
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// ParseNetwork normalizes a user supplied network name
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkTestnet:
		return NetworkTestnet, nil
	case NetworkMainnet:
		return NetworkMainnet, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownNetwork, s)
}

func (n Network) IsMainnet() bool {
	return n == NetworkMainnet
}

func (n Network) String() string {
	return string(n)
}

// NetworkContext is resolved once at the request boundary and passed down to
// every operation instead of reading a global network flag.
type NetworkContext struct {
	Network     Network `json:"network"`
	RequestedBy string  `json:"requested_by"`
}

// NewNetworkContext builds a context for the given network and actor
func NewNetworkContext(network Network, requestedBy string) NetworkContext {
	return NetworkContext{Network: network, RequestedBy: requestedBy}
}

// Well-known contract names in the registry
const (
	ContractSettlement = "settlement_contract"
	ContractNVCToken   = "nvc_token"
)
