package utils

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errMalformedAddress = errors.New("malformed address")
	errZeroAddress      = errors.New("zero address")
	errBadChecksum      = errors.New("address checksum mismatch")
)

// IsEvmAddress checks for a 20-byte hex address with or without 0x prefix
func IsEvmAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(address), "0x") {
		address = "0x" + address
	}
	return common.IsHexAddress(address) && len(address) == 42
}

// ParseAddress validates an EVM address and returns it in checksum form.
// All-lower and all-upper input is accepted as is; mixed case must carry a valid
// EIP-55 checksum. The zero address is rejected; it is never a valid destination or owner.
func ParseAddress(address string) (common.Address, error) {
	if !IsEvmAddress(address) {
		return common.Address{}, errMalformedAddress
	}
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(strings.ToLower(address), "0x") {
		address = "0x" + address
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, errZeroAddress
	}
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != addr.Hex() {
		return common.Address{}, errBadChecksum
	}
	return addr, nil
}

// NormalizeAddress checksum form, or the input unchanged when it is not an address
func NormalizeAddress(address string) string {
	addr, err := ParseAddress(address)
	if err != nil {
		return address
	}
	return addr.Hex()
}

// ParseAmount parses a non-negative base-10 integer amount in the smallest unit
func ParseAmount(amount string) (*big.Int, bool) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok || value.Sign() < 0 {
		return nil, false
	}
	return value, true
}
