package lending

import (
	"fmt"
	"math/big"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
)

var (
	positionPrefix    = []byte("lending/position/")
	userAssetsPrefix  = []byte("lending/user-assets/")
	assetTotalsPrefix = []byte("lending/asset-totals/")
	borrowersKey      = []byte("lending/borrowers")
)

func positionKey(user, asset crypto.Address) []byte {
	key := make([]byte, 0, len(positionPrefix)+2*crypto.AddressLength+1)
	key = append(key, positionPrefix...)
	key = append(key, user[:]...)
	key = append(key, ':')
	return append(key, asset[:]...)
}

func userAssetsKey(user crypto.Address) []byte {
	return append(append([]byte(nil), userAssetsPrefix...), user[:]...)
}

func assetTotalsKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), assetTotalsPrefix...), asset[:]...)
}

// AssetTotals aggregates every position in one asset.
type AssetTotals struct {
	Collateral *big.Int `json:"collateral"`
	Debt       *big.Int `json:"debt"`
}

// Ledger is the single writer of positions. Deposited collateral is held by
// the vault wallet, so the vault's bank balance is the pooled balance of each
// asset and always equals the sum of user collateral.
type Ledger struct {
	vault crypto.Address
}

func NewLedger(vault crypto.Address) *Ledger {
	return &Ledger{vault: vault}
}

// Vault returns the collateral vault address.
func (l *Ledger) Vault() crypto.Address { return l.vault }

// Position loads the position of user in asset; missing positions are zero.
func (l *Ledger) Position(tx *state.Tx, user, asset crypto.Address) (*Position, error) {
	pos := newPosition(user, asset)
	ok, err := tx.KVGet(positionKey(user, asset), pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newPosition(user, asset), nil
	}
	return pos, nil
}

// Positions returns every non-empty position of user.
func (l *Ledger) Positions(tx *state.Tx, user crypto.Address) ([]*Position, error) {
	assets, err := l.Assets(tx, user)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(assets))
	for _, asset := range assets {
		pos, err := l.Position(tx, user, asset)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// Assets lists every asset user has ever held a position in.
func (l *Ledger) Assets(tx *state.Tx, user crypto.Address) ([]crypto.Address, error) {
	var raw [][]byte
	if err := tx.KVGetList(userAssetsKey(user), &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.BytesToAddress(b)
		if err != nil {
			return nil, fmt.Errorf("lending: corrupt asset index: %w", err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Totals returns the aggregate collateral and debt recorded for asset.
func (l *Ledger) Totals(tx *state.Tx, asset crypto.Address) (*AssetTotals, error) {
	totals := &AssetTotals{Collateral: big.NewInt(0), Debt: big.NewInt(0)}
	if _, err := tx.KVGet(assetTotalsKey(asset), totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// PooledBalance returns the vault's holdings of asset.
func (l *Ledger) PooledBalance(tx *state.Tx, asset crypto.Address) (*big.Int, error) {
	return bank.Balance(tx, l.vault, asset)
}

// Borrowers lists every user that has ever carried debt.
func (l *Ledger) Borrowers(tx *state.Tx) ([]crypto.Address, error) {
	var raw [][]byte
	if err := tx.KVGetList(borrowersKey, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		addr, err := crypto.BytesToAddress(b)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// apply writes pos after adjusting the asset totals by the given deltas.
func (l *Ledger) apply(tx *state.Tx, pos *Position, collateralDelta, debtDelta *big.Int) error {
	totals, err := l.Totals(tx, pos.Asset)
	if err != nil {
		return err
	}
	totals.Collateral.Add(totals.Collateral, collateralDelta)
	totals.Debt.Add(totals.Debt, debtDelta)
	if totals.Collateral.Sign() < 0 || totals.Debt.Sign() < 0 {
		return fmt.Errorf("lending: asset totals went negative for %s", pos.Asset.Hex())
	}
	if err := tx.KVPut(assetTotalsKey(pos.Asset), totals); err != nil {
		return err
	}
	if err := tx.KVPut(positionKey(pos.User, pos.Asset), pos); err != nil {
		return err
	}
	if err := tx.KVAppend(userAssetsKey(pos.User), pos.Asset[:]); err != nil {
		return err
	}
	tx.Emit(events.PositionUpdated{
		User:       pos.User,
		Asset:      pos.Asset,
		Collateral: new(big.Int).Set(pos.Collateral),
		Debt:       new(big.Int).Set(pos.Debt),
	})
	return nil
}

// Deposit moves amount from the user's wallet into the vault and credits it
// as collateral.
func (l *Ledger) Deposit(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := bank.Transfer(tx, user, l.vault, asset, amount, "lending.deposit"); err != nil {
		return nil, err
	}
	pos, err := l.Position(tx, user, asset)
	if err != nil {
		return nil, err
	}
	pos.Collateral.Add(pos.Collateral, amount)
	if err := l.apply(tx, pos, amount, big.NewInt(0)); err != nil {
		return nil, err
	}
	return pos, nil
}

// Withdraw debits collateral and returns it to the user's wallet. Health
// checks are the caller's responsibility.
func (l *Ledger) Withdraw(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	pos, err := l.removeCollateral(tx, user, asset, amount)
	if err != nil {
		return nil, err
	}
	if err := bank.Transfer(tx, l.vault, user, asset, amount, "lending.withdraw"); err != nil {
		return nil, err
	}
	return pos, nil
}

// Seize debits collateral without moving funds; the seized amount stays in
// the vault for the payout distributor to transfer out in the same
// transaction.
func (l *Ledger) Seize(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	if amount.Sign() == 0 {
		return l.Position(tx, user, asset)
	}
	return l.removeCollateral(tx, user, asset, amount)
}

func (l *Ledger) removeCollateral(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := l.Position(tx, user, asset)
	if err != nil {
		return nil, err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return nil, ErrInsufficientCollateral
	}
	pos.Collateral.Sub(pos.Collateral, amount)
	if err := l.apply(tx, pos, new(big.Int).Neg(amount), big.NewInt(0)); err != nil {
		return nil, err
	}
	return pos, nil
}

// AddDebt increases the user's debt in asset.
func (l *Ledger) AddDebt(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := l.Position(tx, user, asset)
	if err != nil {
		return nil, err
	}
	pos.Debt.Add(pos.Debt, amount)
	if err := l.apply(tx, pos, big.NewInt(0), amount); err != nil {
		return nil, err
	}
	if err := tx.KVAppend(borrowersKey, user[:]); err != nil {
		return nil, err
	}
	return pos, nil
}

// ReduceDebt decreases the user's debt in asset. Zero is a no-op.
func (l *Ledger) ReduceDebt(tx *state.Tx, user, asset crypto.Address, amount *big.Int) (*Position, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := l.Position(tx, user, asset)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return pos, nil
	}
	if pos.Debt.Cmp(amount) < 0 {
		return nil, ErrInsufficientDebt
	}
	pos.Debt.Sub(pos.Debt, amount)
	if err := l.apply(tx, pos, big.NewInt(0), new(big.Int).Neg(amount)); err != nil {
		return nil, err
	}
	return pos, nil
}

// CheckConservation verifies that recorded collateral for asset equals the
// vault's pooled balance.
func (l *Ledger) CheckConservation(tx *state.Tx, asset crypto.Address) error {
	totals, err := l.Totals(tx, asset)
	if err != nil {
		return err
	}
	pooled, err := l.PooledBalance(tx, asset)
	if err != nil {
		return err
	}
	if totals.Collateral.Cmp(pooled) != 0 {
		return fmt.Errorf("lending: conservation violated for %s: collateral %s, pooled %s", asset.Hex(), totals.Collateral, pooled)
	}
	return nil
}
