package escrow

import (
	"math/big"

	"intentlend/crypto"
)

// Reservation is an escrow hold of lender funds keyed by the lend intent hash.
// Only active reservations are stored; cancel and consume delete the record so
// the hash starts from a clean slate.
type Reservation struct {
	LendHash   [32]byte
	Lender     crypto.Address
	Asset      crypto.Address
	Amount     *big.Int
	Active     bool
	ReservedAt uint64
}

// Clone returns a deep copy of the reservation.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return &clone
}

// Matches reports whether the reservation backs exactly the given terms.
func (r *Reservation) Matches(lender, asset crypto.Address, amount *big.Int) bool {
	if r == nil || !r.Active || r.Amount == nil || amount == nil {
		return false
	}
	return r.Lender == lender && r.Asset == asset && r.Amount.Cmp(amount) == 0
}
