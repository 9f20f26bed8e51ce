package lending

import (
	"math/big"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
)

var penaltyPrefix = []byte("lending/penalty/")

func penaltyKey(user, asset crypto.Address) []byte {
	key := make([]byte, 0, len(penaltyPrefix)+2*crypto.AddressLength)
	key = append(key, penaltyPrefix...)
	key = append(key, user[:]...)
	return append(key, asset[:]...)
}

// PenaltyLedger tracks overdue penalties that could not be paid when they
// were charged. Balances only grow through Accrue and only shrink through
// Settle.
type PenaltyLedger struct {
	collector crypto.Address
}

// NewPenaltyLedger returns a ledger that pays settled penalties to collector.
func NewPenaltyLedger(collector crypto.Address) *PenaltyLedger {
	return &PenaltyLedger{collector: collector}
}

// Outstanding returns the unpaid penalty of user in asset.
func (p *PenaltyLedger) Outstanding(tx *state.Tx, user, asset crypto.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := tx.KVGet(penaltyKey(user, asset), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// Accrue adds amount to the user's unpaid penalty.
func (p *PenaltyLedger) Accrue(tx *state.Tx, user, asset crypto.Address, orderID uint64, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	current, err := p.Outstanding(tx, user, asset)
	if err != nil {
		return nil, err
	}
	current.Add(current, amount)
	if err := tx.KVPut(penaltyKey(user, asset), current); err != nil {
		return nil, err
	}
	tx.Emit(events.PenaltyAccrued{User: user, Asset: asset, OrderID: orderID, Amount: new(big.Int).Set(amount), Total: new(big.Int).Set(current)})
	return current, nil
}

// Settle pays up to amount of the user's penalty from payer to the collector
// and returns the remaining balance.
func (p *PenaltyLedger) Settle(tx *state.Tx, payer, user, asset crypto.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	current, err := p.Outstanding(tx, user, asset)
	if err != nil {
		return nil, nil, err
	}
	if current.Sign() == 0 {
		return nil, nil, ErrNoPenalty
	}
	paid := minInt(current, amount)
	if err := bank.Transfer(tx, payer, p.collector, asset, paid, "lending.penalty"); err != nil {
		return nil, nil, err
	}
	current.Sub(current, paid)
	if current.Sign() == 0 {
		err = tx.KVDelete(penaltyKey(user, asset))
	} else {
		err = tx.KVPut(penaltyKey(user, asset), current)
	}
	if err != nil {
		return nil, nil, err
	}
	tx.Emit(events.PenaltySettled{User: user, Asset: asset, Amount: new(big.Int).Set(paid), Remaining: new(big.Int).Set(current)})
	return paid, current, nil
}
