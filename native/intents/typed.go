package intents

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"intentlend/crypto"
)

// Bytes32 is a fixed 32 byte word rendered as 0x-hex in JSON.
type Bytes32 [32]byte

func (b Bytes32) Hex() string { return "0x" + hex.EncodeToString(b[:]) }

func (b Bytes32) String() string { return b.Hex() }

func (b Bytes32) MarshalText() ([]byte, error) { return []byte(b.Hex()), nil }

func (b *Bytes32) UnmarshalText(text []byte) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("intents: invalid bytes32: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("intents: bytes32 must be 32 bytes, got %d", len(decoded))
	}
	copy(b[:], decoded)
	return nil
}

func addressWord(a crypto.Address) []byte {
	return common.LeftPadBytes(a[:], 32)
}

func uintWord(v uint64) []byte {
	word := uint256.NewInt(v).Bytes32()
	return word[:]
}

// bigWord encodes v as a uint256 word. Negative values and values wider than
// 256 bits cannot be signed and are rejected.
func bigWord(v *big.Int) ([]byte, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("intents: negative uint256 value")
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("intents: value does not fit in uint256")
	}
	out := word.Bytes32()
	return out[:], nil
}

func stringWord(s string) []byte {
	return ethcrypto.Keccak256([]byte(s))
}

func concatBytes(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func typedDataHash(domainSeparator, structHash []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSeparator, structHash)))
	return out
}
