package viewcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
)

var orderPrefix = []byte("view/order/")

// OrderUpdate is the desired lifecycle view of one loan order.
type OrderUpdate struct {
	OrderID  uint64
	Borrower crypto.Address
	Status   string
	Repaid   *big.Int
	TotalDue *big.Int
	Closed   bool
}

// OrderEntry is the versioned lifecycle view of a loan order. Closed is only
// ever set once the order reached a terminal status.
type OrderEntry struct {
	OrderID   uint64         `json:"orderId"`
	Borrower  crypto.Address `json:"borrower"`
	Status    string         `json:"status"`
	Repaid    *big.Int       `json:"repaid"`
	TotalDue  *big.Int       `json:"totalDue"`
	Closed    bool           `json:"closed"`
	Version   uint64         `json:"version"`
	UpdatedAt uint64         `json:"updatedAt"`
}

// OrderSink is implemented by sinks that also mirror order entries. Sinks
// without it only receive position and statistics entries.
type OrderSink interface {
	WriteOrder(ctx context.Context, entry OrderEntry) error
}

func orderKey(id uint64) []byte {
	key := make([]byte, len(orderPrefix)+8)
	copy(key, orderPrefix)
	binary.BigEndian.PutUint64(key[len(orderPrefix):], id)
	return key
}

// GetOrder returns the stored lifecycle entry of order id.
func GetOrder(tx *state.Tx, id uint64) (*OrderEntry, bool, error) {
	var entry OrderEntry
	ok, err := tx.KVGet(orderKey(id), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

// PushOrder applies u with the given strategy, with the same failure
// semantics as Push.
func (c *Cache) PushOrder(ctx context.Context, tx *state.Tx, u OrderUpdate, strategy Strategy) error {
	if strategy != BestEffort {
		if _, view, err := c.writeOrder(ctx, tx, u); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPushFailed, view, err)
		}
		return nil
	}
	var view string
	err := tx.Nested(func(child *state.Tx) error {
		var err error
		_, view, err = c.writeOrder(ctx, child, u)
		return err
	})
	if err == nil {
		return nil
	}
	c.logger.Warn("order view update failed",
		"order", u.OrderID,
		"view", view,
		"error", err)
	tx.Emit(events.CacheUpdateFailed{
		User:        u.Borrower,
		OrderID:     u.OrderID,
		ViewAddress: view,
		Collateral:  big.NewInt(0),
		Debt:        big.NewInt(0),
		Reason:      err.Error(),
	})
	return nil
}

func (c *Cache) writeOrder(ctx context.Context, tx *state.Tx, u OrderUpdate) (*OrderEntry, string, error) {
	if u.OrderID == 0 {
		return nil, stateView, fmt.Errorf("order id required")
	}
	if err := ctx.Err(); err != nil {
		return nil, stateView, err
	}
	prev, _, err := GetOrder(tx, u.OrderID)
	if err != nil {
		return nil, stateView, err
	}
	next := &OrderEntry{
		OrderID:   u.OrderID,
		Borrower:  u.Borrower,
		Status:    u.Status,
		Repaid:    copyAmount(u.Repaid),
		TotalDue:  copyAmount(u.TotalDue),
		Closed:    u.Closed,
		Version:   1,
		UpdatedAt: uint64(c.nowFn().Unix()),
	}
	if prev != nil {
		next.Version = prev.Version + 1
		// closed is sticky
		next.Closed = next.Closed || prev.Closed
	}
	if err := tx.KVPut(orderKey(next.OrderID), next); err != nil {
		return nil, stateView, err
	}
	for _, s := range c.sinks {
		mirror, ok := s.(OrderSink)
		if !ok {
			continue
		}
		if err := mirror.WriteOrder(ctx, *next); err != nil {
			return nil, s.Name(), err
		}
	}
	return next, stateView, nil
}
