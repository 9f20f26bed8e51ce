package events

import (
	"math/big"

	"intentlend/core/types"
	"intentlend/crypto"
)

// TypeCacheUpdateFailed is emitted only when a best-effort view push fails.
const TypeCacheUpdateFailed = "cache.update_failed"

// CacheUpdateFailed carries either a position (User, Asset) or, when OrderID
// is set, an order lifecycle entry.
type CacheUpdateFailed struct {
	User        crypto.Address
	Asset       crypto.Address
	OrderID     uint64
	ViewAddress string
	Collateral  *big.Int
	Debt        *big.Int
	Reason      string
}

func (CacheUpdateFailed) EventType() string { return TypeCacheUpdateFailed }

func (e CacheUpdateFailed) Event() *types.Event {
	ev := &types.Event{
		Type: TypeCacheUpdateFailed,
		Attributes: map[string]string{
			"user":        addrString(e.User),
			"asset":       assetString(e.Asset),
			"viewAddress": e.ViewAddress,
			"collateral":  amountString(e.Collateral),
			"debt":        amountString(e.Debt),
			"reason":      e.Reason,
		},
	}
	if e.OrderID != 0 {
		ev.Attributes["orderId"] = uintString(e.OrderID)
	}
	return ev
}
