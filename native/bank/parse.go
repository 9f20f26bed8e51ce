package bank

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const hashHexLength = 64

// ParseHash normalises and validates a 32 byte hash expressed as hex.
func ParseHash(ref string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return hash, fmt.Errorf("bank: hash required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != hashHexLength {
		return hash, fmt.Errorf("bank: hash must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("bank: decode hash: %w", err)
	}
	copy(hash[:], decoded)
	return hash, nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("bank: amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("bank: invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return amount, nil
}
