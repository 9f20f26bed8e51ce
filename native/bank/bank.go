package bank

import (
	"errors"
	"fmt"
	"math/big"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
)

var (
	balancePrefix = []byte("bank/balance/")
	supplyPrefix  = []byte("bank/supply/")
)

func balanceKey(owner, asset crypto.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*crypto.AddressLength+1)
	key = append(key, balancePrefix...)
	key = append(key, asset[:]...)
	key = append(key, ':')
	return append(key, owner[:]...)
}

func supplyKey(asset crypto.Address) []byte {
	return append(append([]byte(nil), supplyPrefix...), asset[:]...)
}

func load(tx *state.Tx, key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := tx.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func store(tx *state.Tx, key []byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return tx.KVDelete(key)
	}
	return tx.KVPut(key, amount)
}

// Balance returns the wallet balance of owner for asset.
func Balance(tx *state.Tx, owner, asset crypto.Address) (*big.Int, error) {
	return load(tx, balanceKey(owner, asset))
}

// Supply returns the total amount of asset ever credited minus debited.
func Supply(tx *state.Tx, asset crypto.Address) (*big.Int, error) {
	return load(tx, supplyKey(asset))
}

// Credit mints amount into the owner's wallet. It backs operator funding and
// test fixtures; protocol flows move existing balances with Transfer.
func Credit(tx *state.Tx, owner, asset crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if owner.IsZero() || asset.IsZero() {
		return fmt.Errorf("bank: owner and asset are required")
	}
	bal, err := Balance(tx, owner, asset)
	if err != nil {
		return err
	}
	supply, err := Supply(tx, asset)
	if err != nil {
		return err
	}
	if err := store(tx, balanceKey(owner, asset), bal.Add(bal, amount)); err != nil {
		return err
	}
	return store(tx, supplyKey(asset), supply.Add(supply, amount))
}

// Transfer moves amount of asset between wallets. Zero amounts are a no-op so
// callers can pass computed shares without special casing.
func Transfer(tx *state.Tx, from, to, asset crypto.Address, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if to.IsZero() {
		return fmt.Errorf("bank: transfer recipient required")
	}
	fromBal, err := Balance(tx, from, asset)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from, fromBal, asset.Hex(), amount)
	}
	toBal, err := Balance(tx, to, asset)
	if err != nil {
		return err
	}
	if err := store(tx, balanceKey(from, asset), fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := store(tx, balanceKey(to, asset), toBal.Add(toBal, amount)); err != nil {
		return err
	}
	tx.Emit(events.Transfer{From: from, To: to, Asset: asset, Amount: new(big.Int).Set(amount), Memo: memo})
	return nil
}
