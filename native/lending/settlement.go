package lending

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
	"intentlend/native/viewcache"
)

// SettlementRouter is the only component that mutates orders after they are
// opened. Closing an order outside of ordinary repayment always goes through
// SettleOrLiquidate.
type SettlementRouter struct {
	orders    *OrderRegistry
	ledger    *Ledger
	risk      *RiskEvaluator
	payout    *PayoutDistributor
	penalties *PenaltyLedger
	views     ViewPusher
	auth      nativecommon.AuthorizationPort
	accounts  Accounts
	cfg       Config
	nowFn     func() time.Time
}

func (s *SettlementRouter) now() uint64 {
	ts := s.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// overdue reports whether the order is past maturity plus the grace window.
func (s *SettlementRouter) overdue(order *LoanOrder, now uint64) bool {
	return now >= order.Maturity+s.cfg.GraceWindowSeconds
}

// Eligibility reports whether the order may be liquidated right now.
func (s *SettlementRouter) Eligibility(tx *state.Tx, order *LoanOrder) (overdue bool, unhealthy bool, hf uint64, err error) {
	overdue = s.overdue(order, s.now())
	unhealthy, hf, err = s.risk.IsLiquidatable(tx, order.Borrower)
	return overdue, unhealthy, hf, err
}

// SettleOrLiquidate liquidates orderID when it is overdue or its borrower is
// below the minimum health factor, and rejects it otherwise. The liquidator
// of record is call.Origin.
func (s *SettlementRouter) SettleOrLiquidate(ctx context.Context, tx *state.Tx, call Call, orderID uint64, strategy viewcache.Strategy) (*LiquidationResult, error) {
	if err := nativecommon.Require(s.auth, call.Origin, nativecommon.RoleLiquidator); err != nil {
		return nil, err
	}
	order, err := s.orders.Get(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderClosed, order.ID, order.Status)
	}
	overdue, unhealthy, hf, err := s.Eligibility(tx, order)
	if err != nil {
		return nil, err
	}
	if !overdue && !unhealthy {
		return nil, fmt.Errorf("%w: order %d health factor %d bps", ErrNotLiquidatable, order.ID, hf)
	}
	result, err := s.liquidate(ctx, tx, order, call.Origin, strategy)
	if err != nil {
		return nil, err
	}
	result.Overdue = overdue
	result.HealthBps = hf
	return result, nil
}

func (s *SettlementRouter) liquidate(ctx context.Context, tx *state.Tx, order *LoanOrder, liquidator crypto.Address, strategy viewcache.Strategy) (*LiquidationResult, error) {
	debtPos, err := s.ledger.Position(tx, order.Borrower, order.BorrowAsset)
	if err != nil {
		return nil, err
	}
	reducible := minInt(order.Outstanding(), debtPos.Debt)

	debtValue, err := s.risk.Value(order.BorrowAsset, reducible)
	if err != nil {
		return nil, err
	}
	seizeValue := bps(debtValue, 10_000+s.cfg.LiquidationBonusBps)
	seized, err := s.risk.Units(order.CollateralAsset, seizeValue)
	if err != nil {
		return nil, err
	}
	collateralPos, err := s.ledger.Position(tx, order.Borrower, order.CollateralAsset)
	if err != nil {
		return nil, err
	}
	seized = minInt(seized, collateralPos.Collateral)

	if _, err := s.ledger.ReduceDebt(tx, order.Borrower, order.BorrowAsset, reducible); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Seize(tx, order.Borrower, order.CollateralAsset, seized); err != nil {
		return nil, err
	}
	shares := s.payout.Split(seized)
	recipients := Recipients{
		Platform:           s.accounts.Platform,
		Reserve:            s.accounts.Reserve,
		LenderCompensation: order.Lender,
		Liquidator:         liquidator,
	}
	if err := s.payout.Distribute(tx, s.ledger.Vault(), order.CollateralAsset, shares, recipients); err != nil {
		return nil, err
	}
	if err := s.payout.FanOut(tx, order.Lender, order.CollateralAsset, shares.Lender, order.Tranches, "liquidation.tranche"); err != nil {
		return nil, err
	}
	// Partial repayments collected by the pool belong to the tranche lenders.
	if order.RepaidAmount.Sign() > 0 {
		if err := s.payout.FanOut(tx, order.Lender, order.BorrowAsset, order.RepaidAmount, order.Tranches, "loan.tranche"); err != nil {
			return nil, err
		}
	}

	order.DebtCleared.Add(order.DebtCleared, reducible)
	order.Status = OrderLiquidated
	order.ClosedAt = s.now()
	if err := s.orders.save(tx, order); err != nil {
		return nil, err
	}

	updates, err := viewUpdates(tx, s.ledger, order.Borrower, order.BorrowAsset, order.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if err := s.views.Push(ctx, tx, updates, strategy); err != nil {
		return nil, err
	}
	if err := s.views.PushOrder(ctx, tx, orderView(order), strategy); err != nil {
		return nil, err
	}
	tx.Emit(events.LiquidationPayout{
		OrderID:            order.ID,
		User:               order.Borrower,
		CollateralAsset:    order.CollateralAsset,
		Platform:           recipients.Platform,
		Reserve:            recipients.Reserve,
		LenderCompensation: recipients.LenderCompensation,
		Liquidator:         recipients.Liquidator,
		PlatformShare:      new(big.Int).Set(shares.Platform),
		ReserveShare:       new(big.Int).Set(shares.Reserve),
		LenderShare:        new(big.Int).Set(shares.Lender),
		LiquidatorShare:    new(big.Int).Set(shares.Liquidator),
		Seized:             new(big.Int).Set(seized),
		DebtRepaid:         new(big.Int).Set(reducible),
	})
	tx.Emit(events.LoanClosed{OrderID: order.ID, Borrower: order.Borrower, Status: order.Status.String()})
	return &LiquidationResult{
		OrderID:    order.ID,
		Liquidator: liquidator,
		DebtRepaid: reducible,
		Seized:     seized,
		Shares:     shares,
	}, nil
}

// Repay applies a full or partial repayment from call.Origin. Each payment
// clears the matching share of principal from the borrower's debt; the
// payment that reaches the total due clears the rest and closes the order.
func (s *SettlementRouter) Repay(ctx context.Context, tx *state.Tx, call Call, orderID uint64, asset crypto.Address, amount *big.Int) (*RepayResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	order, err := s.orders.Get(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderClosed, order.ID, order.Status)
	}
	if asset != order.BorrowAsset {
		return nil, ErrAssetMismatch
	}
	remaining := order.Remaining()
	if amount.Cmp(remaining) > 0 {
		return nil, fmt.Errorf("%w: %s remaining, %s offered", ErrOverpayment, remaining, amount)
	}
	payer := call.Origin
	if err := bank.Transfer(tx, payer, order.Lender, asset, amount, "loan.repay"); err != nil {
		return nil, err
	}
	now := s.now()
	penaltyPaid, penaltyAccrued, err := s.chargeLatePenalty(tx, order, payer, now)
	if err != nil {
		return nil, err
	}

	order.RepaidAmount.Add(order.RepaidAmount, amount)
	var cleared *big.Int
	final := order.RepaidAmount.Cmp(order.TotalDue) == 0
	if final {
		cleared = order.Outstanding()
	} else {
		cleared = mulDiv(order.Principal, order.RepaidAmount, order.TotalDue)
		cleared.Sub(cleared, order.DebtCleared)
	}
	if _, err := s.ledger.ReduceDebt(tx, order.Borrower, order.BorrowAsset, cleared); err != nil {
		return nil, err
	}
	order.DebtCleared.Add(order.DebtCleared, cleared)
	if final {
		order.Status = OrderRepaid
		order.ClosedAt = now
		if err := s.payout.FanOut(tx, order.Lender, asset, order.TotalDue, order.Tranches, "loan.tranche"); err != nil {
			return nil, err
		}
	}
	if err := s.orders.save(tx, order); err != nil {
		return nil, err
	}

	updates, err := viewUpdates(tx, s.ledger, order.Borrower, order.BorrowAsset)
	if err != nil {
		return nil, err
	}
	if err := s.views.Push(ctx, tx, updates, viewcache.Atomic); err != nil {
		return nil, err
	}
	if err := s.views.PushOrder(ctx, tx, orderView(order), viewcache.Atomic); err != nil {
		return nil, err
	}
	tx.Emit(events.LoanRepayment{
		OrderID:     order.ID,
		Payer:       payer,
		Asset:       asset,
		Amount:      new(big.Int).Set(amount),
		RepaidTotal: new(big.Int).Set(order.RepaidAmount),
		TotalDue:    new(big.Int).Set(order.TotalDue),
		DebtReduced: new(big.Int).Set(cleared),
		Penalty:     new(big.Int).Add(penaltyPaid, penaltyAccrued),
	})
	if final {
		tx.Emit(events.LoanClosed{OrderID: order.ID, Borrower: order.Borrower, Status: order.Status.String()})
	}
	return &RepayResult{
		OrderID:        order.ID,
		Status:         order.Status,
		RepaidAmount:   new(big.Int).Set(order.RepaidAmount),
		Remaining:      order.Remaining(),
		DebtReduced:    cleared,
		PenaltyPaid:    penaltyPaid,
		PenaltyAccrued: penaltyAccrued,
	}, nil
}

// chargeLatePenalty charges the overdue penalty once per order. Whatever the
// payer cannot cover from its wallet is accrued against the borrower.
func (s *SettlementRouter) chargeLatePenalty(tx *state.Tx, order *LoanOrder, payer crypto.Address, now uint64) (*big.Int, *big.Int, error) {
	paid, accrued := big.NewInt(0), big.NewInt(0)
	if now < order.Maturity || order.PenaltyCharged.Sign() > 0 {
		return paid, accrued, nil
	}
	penalty := LatePenalty(order.Principal, s.cfg.LatePenaltyBpsPerDay, order.Maturity, now)
	if penalty.Sign() == 0 {
		return paid, accrued, nil
	}
	balance, err := bank.Balance(tx, payer, order.BorrowAsset)
	if err != nil {
		return nil, nil, err
	}
	paid = minInt(balance, penalty)
	if err := bank.Transfer(tx, payer, s.accounts.Platform, order.BorrowAsset, paid, "loan.late_penalty"); err != nil {
		return nil, nil, err
	}
	accrued = new(big.Int).Sub(penalty, paid)
	if accrued.Sign() > 0 {
		if _, err := s.penalties.Accrue(tx, order.Borrower, order.BorrowAsset, order.ID, accrued); err != nil {
			return nil, nil, err
		}
	}
	order.PenaltyCharged = penalty
	return paid, accrued, nil
}
