package events

import (
	"encoding/hex"
	"math/big"

	"intentlend/core/types"
	"intentlend/crypto"
)

const (
	TypeFundsReserved       = "escrow.reserved"
	TypeReservationCanceled = "escrow.canceled"
	TypeReservationConsumed = "escrow.consumed"
)

// Reservation describes a change to a lend-intent escrow hold.
type Reservation struct {
	Kind     string
	LendHash [32]byte
	Lender   crypto.Address
	Asset    crypto.Address
	Amount   *big.Int
}

func (e Reservation) EventType() string { return e.Kind }

func (e Reservation) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"lendHash": "0x" + hex.EncodeToString(e.LendHash[:]),
			"lender":   addrString(e.Lender),
			"asset":    assetString(e.Asset),
			"amount":   amountString(e.Amount),
		},
	}
}
