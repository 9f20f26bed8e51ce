package events

import (
	"math/big"

	"intentlend/core/types"
	"intentlend/crypto"
)

const TypeTransfer = "bank.transfer"

type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Asset  crypto.Address
	Amount *big.Int
	Memo   string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"from":   addrString(e.From),
			"to":     addrString(e.To),
			"asset":  assetString(e.Asset),
			"amount": amountString(e.Amount),
			"memo":   e.Memo,
		},
	}
}
