package intents

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"intentlend/crypto"
)

var eip712DomainTypeHash = ethcrypto.Keccak256(
	[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
)

// Domain binds signatures to one deployment: the protocol name and version,
// the execution context (chain id) and the target contract identity.
type Domain struct {
	Name              string         `json:"name" toml:"name"`
	Version           string         `json:"version" toml:"version"`
	ChainID           uint64         `json:"chainId" toml:"chainId"`
	VerifyingContract crypto.Address `json:"verifyingContract" toml:"verifyingContract"`
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		stringWord(d.Name),
		stringWord(d.Version),
		uintWord(d.ChainID),
		addressWord(d.VerifyingContract),
	))
}

// Equal compares every field that contributes to the separator.
func (d Domain) Equal(other Domain) bool {
	return d.Name == other.Name &&
		d.Version == other.Version &&
		d.ChainID == other.ChainID &&
		d.VerifyingContract == other.VerifyingContract
}

// Valid reports whether the domain has every binding field populated.
func (d Domain) Valid() bool {
	return strings.TrimSpace(d.Name) != "" &&
		strings.TrimSpace(d.Version) != "" &&
		d.ChainID != 0 &&
		!d.VerifyingContract.IsZero()
}
