package config

import (
	"intentlend/crypto"
	"intentlend/native/intents"
	"intentlend/native/lending"
)

// Domain is the signing domain intents are bound to.
type Domain struct {
	Name              string         `toml:"name"`
	Version           string         `toml:"version"`
	ChainID           uint64         `toml:"chainId"`
	VerifyingContract crypto.Address `toml:"verifyingContract"`
}

// Pauses lists the modules that start paused.
type Pauses struct {
	Lending bool `toml:"lending"`
	Escrow  bool `toml:"escrow"`
}

// Modules returns the names of the paused modules.
func (p Pauses) Modules() []string {
	var out []string
	if p.Lending {
		out = append(out, "lending")
	}
	if p.Escrow {
		out = append(out, "escrow")
	}
	return out
}

// Config is the engine configuration persisted as TOML.
type Config struct {
	DataDir string `toml:"dataDir"`
	// StorageBackend selects "leveldb" (default) or "memory".
	StorageBackend string `toml:"storageBackend"`

	Lending  lending.Config   `toml:"lending"`
	Domain   Domain           `toml:"domain"`
	Accounts lending.Accounts `toml:"accounts"`
	Pauses   Pauses           `toml:"pauses"`

	// Prices maps an asset address to its 1e18-scaled price.
	Prices map[string]string `toml:"prices"`
	// Roles maps a holder address to the role names seeded at startup.
	Roles map[string][]string `toml:"roles"`
	// Delegates maps a contract signer to the owner keys allowed to sign
	// intents on its behalf.
	Delegates map[string][]string `toml:"delegates"`
}

// Signing converts the configured domain into the form intents are verified
// against.
func (d Domain) Signing() intents.Domain {
	return intents.Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           d.ChainID,
		VerifyingContract: d.VerifyingContract,
	}
}
