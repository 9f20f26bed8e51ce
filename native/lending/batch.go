package lending

import (
	"context"
	"errors"

	"intentlend/core/state"
	nativecommon "intentlend/native/common"
	"intentlend/native/viewcache"
)

// BatchOutcome is the result of one order in a batch liquidation.
type BatchOutcome struct {
	OrderID uint64             `json:"orderId"`
	Result  *LiquidationResult `json:"result,omitempty"`
	Err     error              `json:"-"`
	Error   string             `json:"error,omitempty"`
}

// BatchLiquidate settles every order in its own transaction with best-effort
// view pushes. A failing order is reported in its outcome and does not affect
// the others. Missing authorization or a pause stops the batch.
func (e *Engine) BatchLiquidate(ctx context.Context, call Call, orderIDs []uint64) ([]BatchOutcome, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	outcomes := make([]BatchOutcome, 0, len(orderIDs))
	for _, id := range orderIDs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome := BatchOutcome{OrderID: id}
		err := e.update(func(tx *state.Tx) error {
			res, err := e.settlement.SettleOrLiquidate(ctx, tx, call, id, viewcache.BestEffort)
			if err != nil {
				return err
			}
			outcome.Result = res
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrMissingAuthorization) || errors.Is(err, nativecommon.ErrModulePaused) {
				return outcomes, err
			}
			outcome.Result = nil
			outcome.Err = err
			outcome.Error = err.Error()
			e.logger.Warn("batch liquidation skipped order", "order", id, "error", err)
		} else {
			e.logger.Info("batch liquidation settled order", "order", id, "seized", outcome.Result.Seized.String())
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Candidate is an active order that SettleOrLiquidate would accept.
type Candidate struct {
	OrderID   uint64 `json:"orderId"`
	Overdue   bool   `json:"overdue"`
	HealthBps uint64 `json:"healthFactorBps"`
}

// FindLiquidatable scans active orders in creation order and returns up to
// limit candidates. A zero limit returns all of them. Orders whose
// eligibility cannot be evaluated are logged and skipped.
func (e *Engine) FindLiquidatable(limit int) ([]Candidate, error) {
	var out []Candidate
	err := e.state.View(func(tx *state.Tx) error {
		ids, err := e.orders.Active(tx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			order, err := e.orders.Get(tx, id)
			if err != nil {
				return err
			}
			overdue, unhealthy, hf, err := e.settlement.Eligibility(tx, order)
			if err != nil {
				e.logger.Warn("liquidation scan skipped order", "order", id, "error", err)
				continue
			}
			if overdue || unhealthy {
				out = append(out, Candidate{OrderID: id, Overdue: overdue, HealthBps: hf})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
