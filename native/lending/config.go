package lending

import (
	"fmt"

	"intentlend/crypto"
)

// Config captures the runtime risk and payout parameters for the engine.
type Config struct {
	MinHealthFactorBps   uint64 `toml:"minHealthFactorBps"`
	LiquidationBonusBps  uint64 `toml:"liquidationBonusBps"`
	ProtocolFeeBps       uint64 `toml:"protocolFeeBps"`
	PlatformShareBps     uint64 `toml:"platformShareBps"`
	ReserveShareBps      uint64 `toml:"reserveShareBps"`
	LiquidatorShareBps   uint64 `toml:"liquidatorShareBps"`
	LatePenaltyBpsPerDay uint64 `toml:"latePenaltyBpsPerDay"`
	GraceWindowSeconds   uint64 `toml:"graceWindowSeconds"`
	StrictErrorTaxonomy  bool   `toml:"strictErrorTaxonomy"`
}

// Accounts names the protocol-owned wallets.
type Accounts struct {
	// Pool is the escrow entity: it holds reservations and is the lender of
	// record on every order.
	Pool            crypto.Address `toml:"pool"`
	CollateralVault crypto.Address `toml:"collateralVault"`
	Platform        crypto.Address `toml:"platform"`
	Reserve         crypto.Address `toml:"reserve"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MinHealthFactorBps:   12_000,
		LiquidationBonusBps:  500,
		ProtocolFeeBps:       50,
		PlatformShareBps:     1_000,
		ReserveShareBps:      500,
		LiquidatorShareBps:   2_000,
		LatePenaltyBpsPerDay: 10,
	}
}

// EnsureDefaults fills unset fields that have no meaningful zero value.
func (c *Config) EnsureDefaults() {
	if c.MinHealthFactorBps == 0 {
		c.MinHealthFactorBps = DefaultConfig().MinHealthFactorBps
	}
}

// Validate rejects parameter combinations that would break payout math.
func (c Config) Validate() error {
	if c.MinHealthFactorBps < 10_000 {
		return fmt.Errorf("lending: minHealthFactorBps must be at least 10000, got %d", c.MinHealthFactorBps)
	}
	if c.ProtocolFeeBps >= 10_000 {
		return fmt.Errorf("lending: protocolFeeBps must be below 10000")
	}
	if sum := c.PlatformShareBps + c.ReserveShareBps + c.LiquidatorShareBps; sum > 10_000 {
		return fmt.Errorf("lending: payout shares total %d bps, exceeding 10000", sum)
	}
	return nil
}

// Validate requires every protocol account to be set and distinct from the
// collateral vault.
func (a Accounts) Validate() error {
	if a.Pool.IsZero() || a.CollateralVault.IsZero() || a.Platform.IsZero() || a.Reserve.IsZero() {
		return errAccountsNotConfigured
	}
	if a.Pool == a.CollateralVault {
		return fmt.Errorf("lending: pool and collateral vault must differ")
	}
	return nil
}
