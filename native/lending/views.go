package lending

import (
	"context"

	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/viewcache"
)

// ViewPusher propagates position and order snapshots to the read-optimised
// views.
type ViewPusher interface {
	Push(ctx context.Context, tx *state.Tx, updates []viewcache.Update, strategy viewcache.Strategy) error
	PushOrder(ctx context.Context, tx *state.Tx, update viewcache.OrderUpdate, strategy viewcache.Strategy) error
}

type noopViews struct{}

func (noopViews) Push(context.Context, *state.Tx, []viewcache.Update, viewcache.Strategy) error {
	return nil
}

func (noopViews) PushOrder(context.Context, *state.Tx, viewcache.OrderUpdate, viewcache.Strategy) error {
	return nil
}

// orderView is the lifecycle view of order. Only terminal orders are closed.
func orderView(order *LoanOrder) viewcache.OrderUpdate {
	return viewcache.OrderUpdate{
		OrderID:  order.ID,
		Borrower: order.Borrower,
		Status:   order.Status.String(),
		Repaid:   order.RepaidAmount,
		TotalDue: order.TotalDue,
		Closed:   order.Status.Terminal(),
	}
}

// viewUpdates snapshots user's positions in assets plus the statistics entry
// of each asset.
func viewUpdates(tx *state.Tx, ledger *Ledger, user crypto.Address, assets ...crypto.Address) ([]viewcache.Update, error) {
	seen := make(map[crypto.Address]bool, len(assets))
	updates := make([]viewcache.Update, 0, 2*len(assets))
	var stats []viewcache.Update
	for _, asset := range assets {
		if seen[asset] {
			continue
		}
		seen[asset] = true
		pos, err := ledger.Position(tx, user, asset)
		if err != nil {
			return nil, err
		}
		updates = append(updates, viewcache.Update{User: user, Asset: asset, Collateral: pos.Collateral, Debt: pos.Debt})
		totals, err := ledger.Totals(tx, asset)
		if err != nil {
			return nil, err
		}
		stats = append(stats, viewcache.Update{Asset: asset, Collateral: totals.Collateral, Debt: totals.Debt})
	}
	return append(updates, stats...), nil
}
