package lending

import (
	"math/big"

	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
)

// Recipients are the four payees of a liquidation.
type Recipients struct {
	Platform           crypto.Address
	Reserve            crypto.Address
	LenderCompensation crypto.Address
	Liquidator         crypto.Address
}

// PayoutDistributor splits seized collateral and executes the transfers.
type PayoutDistributor struct {
	platformBps   uint64
	reserveBps    uint64
	liquidatorBps uint64
}

func NewPayoutDistributor(cfg Config) *PayoutDistributor {
	return &PayoutDistributor{
		platformBps:   cfg.PlatformShareBps,
		reserveBps:    cfg.ReserveShareBps,
		liquidatorBps: cfg.LiquidatorShareBps,
	}
}

// Split divides seized into the four shares. Each configured share is rounded
// down and the lender compensation takes the remainder, so the shares always
// sum to seized exactly.
func (p *PayoutDistributor) Split(seized *big.Int) Shares {
	shares := Shares{
		Platform:   bps(seized, p.platformBps),
		Reserve:    bps(seized, p.reserveBps),
		Liquidator: bps(seized, p.liquidatorBps),
	}
	lender := new(big.Int).Set(seized)
	lender.Sub(lender, shares.Platform)
	lender.Sub(lender, shares.Reserve)
	lender.Sub(lender, shares.Liquidator)
	shares.Lender = lender
	return shares
}

// Distribute transfers every share of asset from the vault.
func (p *PayoutDistributor) Distribute(tx *state.Tx, vault, asset crypto.Address, shares Shares, to Recipients) error {
	transfers := []struct {
		recipient crypto.Address
		amount    *big.Int
		memo      string
	}{
		{to.Platform, shares.Platform, "liquidation.platform"},
		{to.Reserve, shares.Reserve, "liquidation.reserve"},
		{to.LenderCompensation, shares.Lender, "liquidation.lender"},
		{to.Liquidator, shares.Liquidator, "liquidation.liquidator"},
	}
	for _, t := range transfers {
		if err := bank.Transfer(tx, vault, t.recipient, asset, t.amount, t.memo); err != nil {
			return err
		}
	}
	return nil
}

// FanOut pays amount of asset from the pool to the order's tranche lenders pro
// rata by funded amount. The last tranche receives the rounding remainder.
func (p *PayoutDistributor) FanOut(tx *state.Tx, pool, asset crypto.Address, amount *big.Int, tranches []Tranche, memo string) error {
	if amount.Sign() == 0 || len(tranches) == 0 {
		return nil
	}
	funded := new(big.Int)
	for _, tr := range tranches {
		funded.Add(funded, tr.Amount)
	}
	remaining := new(big.Int).Set(amount)
	for i, tr := range tranches {
		share := remaining
		if i < len(tranches)-1 {
			share = mulDiv(amount, tr.Amount, funded)
		}
		if err := bank.Transfer(tx, pool, tr.Lender, asset, share, memo); err != nil {
			return err
		}
		if i < len(tranches)-1 {
			remaining = new(big.Int).Sub(remaining, share)
		}
	}
	return nil
}
