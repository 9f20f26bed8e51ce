package lending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"intentlend/core/events"
	"intentlend/crypto"
	nativecommon "intentlend/native/common"
	"intentlend/native/viewcache"
)

func maturity(order *LoanOrder) time.Time { return time.Unix(int64(order.Maturity), 0) }

func TestRepayOnTimeClosesOrder(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order).Add(-time.Hour)
	h.credit(h.borrower(), h.stable, 6)

	res, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(1_001))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Status != OrderRepaid || res.Remaining.Sign() != 0 {
		t.Fatalf("unexpected result: status=%s remaining=%s", res.Status, res.Remaining)
	}
	if res.PenaltyPaid.Sign() != 0 || res.PenaltyAccrued.Sign() != 0 {
		t.Fatalf("on-time repayment must not be penalised")
	}
	if debt := h.position(h.borrower(), h.stable).Debt.Sign(); debt != 0 {
		t.Fatalf("debt must be cleared")
	}
	if got := h.balance(h.lender(), h.stable); got != 1_001 {
		t.Fatalf("lender payout: got %d want 1001", got)
	}
	if got := h.balance(h.accounts.Pool, h.stable); got != 0 {
		t.Fatalf("pool must pass repayments through, has %d", got)
	}
	if closed := h.events.OfType(events.TypeLoanClosed); len(closed) != 1 {
		t.Fatalf("expected one loan.closed, got %d", len(closed))
	}
	h.requireConservation()
}

func TestPartialRepayKeepsOrderActive(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.credit(h.borrower(), h.stable, 6)
	call := DirectCall(h.borrower())

	res, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(500))
	if err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if res.Status != OrderActive {
		t.Fatalf("partial repayment must keep the order active")
	}
	// 1000 * 500 / 1001 rounds down to 499.
	if res.DebtReduced.Int64() != 499 {
		t.Fatalf("debt reduced: got %s want 499", res.DebtReduced)
	}
	if len(h.events.OfType(events.TypeLoanClosed)) != 0 {
		t.Fatalf("partial repayment must not signal closure")
	}
	if got := h.balance(h.lender(), h.stable); got != 0 {
		t.Fatalf("partial repayment must not pay tranches, lender has %d", got)
	}

	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(502)); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("overpayment must fail, got %v", err)
	}
	res, err = h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(501))
	if err != nil {
		t.Fatalf("final repay: %v", err)
	}
	if res.Status != OrderRepaid || res.DebtReduced.Int64() != 501 {
		t.Fatalf("final repay: status=%s reduced=%s", res.Status, res.DebtReduced)
	}
	if debt := h.position(h.borrower(), h.stable).Debt.Sign(); debt != 0 {
		t.Fatalf("debt must be cleared")
	}
}

func TestRepayValidation(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	call := DirectCall(h.borrower())
	if _, err := h.engine.Repay(h.ctx, call, order.ID+1, h.stable, big.NewInt(1)); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown order: got %v", err)
	}
	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.collateral, big.NewInt(1)); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("wrong asset: got %v", err)
	}
	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(1_002)); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("overpayment: got %v", err)
	}
}

func TestLateRepayAccruesPenalty(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order).Add(time.Second)
	h.credit(h.borrower(), h.stable, 6)

	res, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(1_001))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	// 10 bps per started day on 1000 principal is 1, and the wallet is empty.
	if res.PenaltyPaid.Sign() != 0 || res.PenaltyAccrued.Int64() != 1 {
		t.Fatalf("penalty paid=%s accrued=%s", res.PenaltyPaid, res.PenaltyAccrued)
	}
	owed, err := h.engine.Penalty(h.borrower(), h.stable)
	if err != nil || owed.Int64() != 1 {
		t.Fatalf("outstanding penalty: %v %v", owed, err)
	}
	if len(h.events.OfType(events.TypePenaltyAccrued)) != 1 {
		t.Fatalf("expected penalty accrual event")
	}

	h.credit(h.borrower(), h.stable, 5)
	paid, remaining, err := h.engine.SettlePenalty(h.ctx, DirectCall(h.borrower()), h.borrower(), h.stable, big.NewInt(5))
	if err != nil {
		t.Fatalf("settle penalty: %v", err)
	}
	if paid.Int64() != 1 || remaining.Sign() != 0 {
		t.Fatalf("settle: paid=%s remaining=%s", paid, remaining)
	}
	if _, _, err := h.engine.SettlePenalty(h.ctx, DirectCall(h.borrower()), h.borrower(), h.stable, big.NewInt(1)); !errors.Is(err, ErrNoPenalty) {
		t.Fatalf("settling a cleared penalty must fail, got %v", err)
	}
	if got := h.balance(h.accounts.Platform, h.stable); got != 5+1 {
		t.Fatalf("platform receives fee and penalty, has %d", got)
	}
}

func TestLateRepayPaysPenaltyFromWallet(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order).Add(2*24*time.Hour + time.Second)
	h.credit(h.borrower(), h.stable, 100)

	res, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(600))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	// Three started days past maturity.
	if res.PenaltyPaid.Int64() != 3 || res.PenaltyAccrued.Sign() != 0 {
		t.Fatalf("penalty paid=%s accrued=%s", res.PenaltyPaid, res.PenaltyAccrued)
	}
	res, err = h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(401))
	if err != nil {
		t.Fatalf("second repay: %v", err)
	}
	if res.PenaltyPaid.Sign() != 0 {
		t.Fatalf("penalty is charged once per order")
	}
}

func TestSettleRejectsHealthyCurrentOrder(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected not liquidatable, got %v", err)
	}
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.borrower()), order.ID); !errors.Is(err, ErrMissingAuthorization) {
		t.Fatalf("expected missing authorization, got %v", err)
	}
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), 99); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestOverdueLiquidation(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)

	res, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !res.Overdue {
		t.Fatalf("liquidation should be attributed to maturity")
	}
	// 1000 debt plus a 500 bps bonus at parity seizes 1050.
	if res.DebtRepaid.Int64() != 1_000 || res.Seized.Int64() != 1_050 {
		t.Fatalf("repaid=%s seized=%s", res.DebtRepaid, res.Seized)
	}
	if res.Shares.Total().Cmp(res.Seized) != 0 {
		t.Fatalf("shares %s do not sum to seized %s", res.Shares.Total(), res.Seized)
	}
	want := map[string]int64{"platform": 105, "reserve": 52, "liquidator": 210, "lender": 683}
	got := map[string]int64{
		"platform":   res.Shares.Platform.Int64(),
		"reserve":    res.Shares.Reserve.Int64(),
		"liquidator": res.Shares.Liquidator.Int64(),
		"lender":     res.Shares.Lender.Int64(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s share: got %d want %d", k, got[k], v)
		}
	}
	balances := map[crypto.Address]int64{
		h.accounts.Platform: 105,
		h.accounts.Reserve:  52,
		h.liquidator:        210,
		h.lender():          683,
		h.accounts.Pool:     0,
	}
	for owner, v := range balances {
		if b := h.balance(owner, h.collateral); b != v {
			t.Fatalf("collateral balance of %s: got %d want %d", owner, b, v)
		}
	}
	pos := h.position(h.borrower(), h.collateral)
	if pos.Collateral.Int64() != 950 {
		t.Fatalf("remaining collateral: got %s", pos.Collateral)
	}
	if debt := h.position(h.borrower(), h.stable).Debt.Sign(); debt != 0 {
		t.Fatalf("debt must be cleared")
	}
	stored, err := h.engine.Order(order.ID)
	if err != nil || stored.Status != OrderLiquidated {
		t.Fatalf("order status: %v %v", stored, err)
	}
	payouts := h.events.OfType(events.TypeLiquidationPayout)
	if len(payouts) != 1 {
		t.Fatalf("expected one payout event, got %d", len(payouts))
	}
	ev := payouts[0].(events.LiquidationPayout)
	if ev.Liquidator != h.liquidator || ev.LenderCompensation != h.accounts.Pool {
		t.Fatalf("payout recipients: %+v", ev)
	}
	h.requireConservation()
}

func TestUnhealthyLiquidationCapsSeizure(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.oracle.Set(h.collateral, new(big.Int).Div(unitPrice, big.NewInt(2)))

	res, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if res.Overdue || res.HealthBps != 10_000 {
		t.Fatalf("expected health-triggered liquidation, overdue=%v hf=%d", res.Overdue, res.HealthBps)
	}
	// 1050 value at a half price is 2100 units, capped at the 2000 deposited.
	if res.Seized.Int64() != 2_000 {
		t.Fatalf("seized: got %s", res.Seized)
	}
	if res.Shares.Total().Cmp(res.Seized) != 0 {
		t.Fatalf("payout completeness violated")
	}
	h.requireConservation()
}

func TestLiquidatorOfRecordIsOrigin(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	relay := addr(0x77)

	res, err := h.engine.SettleOrLiquidate(h.ctx, Call{Origin: h.liquidator, Sender: relay}, order.ID)
	if err != nil {
		t.Fatalf("liquidate via relay: %v", err)
	}
	if res.Liquidator != h.liquidator {
		t.Fatalf("liquidator of record: got %s", res.Liquidator)
	}
	if got := h.balance(relay, h.collateral); got != 0 {
		t.Fatalf("relay must not be paid, has %d", got)
	}
	if got := h.balance(h.liquidator, h.collateral); got != res.Shares.Liquidator.Int64() {
		t.Fatalf("origin must receive the liquidator share, has %d", got)
	}
}

func TestTerminalOrdersRejectTransitions(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.credit(h.borrower(), h.stable, 6)
	if _, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(1_001)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	h.now = maturity(order).Add(time.Hour)
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("liquidating a repaid order must fail, got %v", err)
	}
	if _, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(1)); !errors.Is(err, ErrOrderClosed) {
		t.Fatalf("repaying a repaid order must fail, got %v", err)
	}
}

func TestAtomicLiquidationRollsBackOnViewFailure(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	h.sink.FailWith(errors.New("mirror offline"))

	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID); !errors.Is(err, viewcache.ErrPushFailed) {
		t.Fatalf("expected push failure, got %v", err)
	}
	stored, _ := h.engine.Order(order.ID)
	if stored.Status != OrderActive {
		t.Fatalf("order must stay active after rollback")
	}
	if got := h.position(h.borrower(), h.collateral).Collateral.Int64(); got != 2_000 {
		t.Fatalf("collateral must be untouched, got %d", got)
	}
}

func TestBatchLiquidateBestEffort(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)

	candidates, err := h.engine.FindLiquidatable(0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(candidates) != 1 || candidates[0].OrderID != order.ID || !candidates[0].Overdue {
		t.Fatalf("candidates: %+v", candidates)
	}

	h.sink.FailWith(errors.New("mirror offline"))
	h.events.Reset()
	outcomes, err := h.engine.BatchLiquidate(h.ctx, DirectCall(h.liquidator), []uint64{order.ID, 42})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected an outcome per order, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil || outcomes[0].Result == nil {
		t.Fatalf("first order should settle: %v", outcomes[0].Err)
	}
	if !errors.Is(outcomes[1].Err, ErrOrderNotFound) {
		t.Fatalf("second order should fail independently, got %v", outcomes[1].Err)
	}
	stored, _ := h.engine.Order(order.ID)
	if stored.Status != OrderLiquidated {
		t.Fatalf("ledger mutation must stand despite view failure")
	}
	failed := h.events.OfType(events.TypeCacheUpdateFailed)
	if len(failed) == 0 {
		t.Fatalf("best-effort push must signal the failure")
	}
	if reason := failed[0].(events.CacheUpdateFailed).Reason; reason != "mirror offline" {
		t.Fatalf("failure reason: %q", reason)
	}
	if _, ok, _ := h.engine.ViewEntry(h.borrower(), h.collateral); !ok {
		t.Fatalf("pre-liquidation entry should still exist")
	}
	if remaining, _ := h.engine.FindLiquidatable(0); len(remaining) != 0 {
		t.Fatalf("no candidates should remain, got %+v", remaining)
	}
	h.requireConservation()
}

func TestBatchLiquidateRequiresRole(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	outcomes, err := h.engine.BatchLiquidate(h.ctx, DirectCall(h.operator), []uint64{order.ID})
	if !errors.Is(err, ErrMissingAuthorization) || len(outcomes) != 0 {
		t.Fatalf("expected authorization failure, got %v %+v", err, outcomes)
	}
}

func TestRefreshViewsRepushes(t *testing.T) {
	h := newHarness(t, nil)
	h.openLoan()
	before, _, _ := h.engine.ViewEntry(h.borrower(), h.stable)
	n, err := h.engine.RefreshViews(h.ctx, DirectCall(h.operator), []crypto.Address{h.borrower(), addr(0x99)})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("refreshed users: got %d", n)
	}
	after, _, _ := h.engine.ViewEntry(h.borrower(), h.stable)
	if after.Version != before.Version+1 {
		t.Fatalf("version: before %d after %d", before.Version, after.Version)
	}
	digest, count, err := h.engine.ViewDigest()
	if err != nil || count == 0 || digest == ([32]byte{}) {
		t.Fatalf("digest: %x %d %v", digest, count, err)
	}
}

func TestPartialRepayThenLiquidationPaysLenders(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	if _, err := h.engine.Repay(h.ctx, DirectCall(h.borrower()), order.ID, h.stable, big.NewInt(500)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if got := h.balance(h.accounts.Pool, h.stable); got != 500 {
		t.Fatalf("pool must hold the partial repayment until close, has %d", got)
	}

	h.now = maturity(order).Add(time.Hour)
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got := h.balance(h.accounts.Pool, h.stable); got != 0 {
		t.Fatalf("pool kept %d of the borrow asset after liquidation", got)
	}
	if got := h.balance(h.lender(), h.stable); got != 500 {
		t.Fatalf("lender repayment share: got %d want 500", got)
	}
	if got := h.balance(h.accounts.Pool, h.collateral); got != 0 {
		t.Fatalf("pool kept %d collateral", got)
	}
	h.requireConservation()
}

func TestOrderViewTracksLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	view := func() *viewcache.OrderEntry {
		t.Helper()
		entry, ok, err := h.engine.OrderView(order.ID)
		if err != nil || !ok {
			t.Fatalf("order view: ok=%v err=%v", ok, err)
		}
		return entry
	}

	opened := view()
	if opened.Version != 1 || opened.Closed || opened.Status != "active" {
		t.Fatalf("opened view: %+v", opened)
	}
	if opened.TotalDue.Int64() != 1_001 || opened.Repaid.Sign() != 0 {
		t.Fatalf("opened amounts: due=%s repaid=%s", opened.TotalDue, opened.Repaid)
	}

	h.credit(h.borrower(), h.stable, 6)
	call := DirectCall(h.borrower())
	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(500)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	partial := view()
	if partial.Version != 2 || partial.Closed || partial.Status != "active" || partial.Repaid.Int64() != 500 {
		t.Fatalf("partial view: %+v", partial)
	}

	if _, err := h.engine.Repay(h.ctx, call, order.ID, h.stable, big.NewInt(501)); err != nil {
		t.Fatalf("final repay: %v", err)
	}
	final := view()
	if final.Version != 3 || !final.Closed || final.Status != "repaid" {
		t.Fatalf("final view: %+v", final)
	}
	mirrored, err := h.sink.LookupOrder(order.ID)
	if err != nil || mirrored.Version != 3 || !mirrored.Closed {
		t.Fatalf("mirrored order: %+v %v", mirrored, err)
	}
}

func TestOrderViewClosedByLiquidation(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	if _, err := h.engine.SettleOrLiquidate(h.ctx, DirectCall(h.liquidator), order.ID); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	entry, ok, err := h.engine.OrderView(order.ID)
	if err != nil || !ok {
		t.Fatalf("order view: ok=%v err=%v", ok, err)
	}
	if entry.Version != 2 || !entry.Closed || entry.Status != "liquidated" {
		t.Fatalf("liquidated view: %+v", entry)
	}
}

func TestFindLiquidatableSkipsUnpricedOrders(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	h.oracle.Set(h.collateral, big.NewInt(0))

	candidates, err := h.engine.FindLiquidatable(0)
	if err != nil {
		t.Fatalf("scan must not abort on one order: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("unpriced order must be skipped: %+v", candidates)
	}

	h.oracle.Set(h.collateral, unitPrice)
	if candidates, err = h.engine.FindLiquidatable(0); err != nil || len(candidates) != 1 {
		t.Fatalf("repriced order must be found: %+v %v", candidates, err)
	}
}

// pauseAfter reports the lending module paused once it was asked more than
// open times.
type pauseAfter struct {
	open  int
	asked int
}

func (p *pauseAfter) IsPaused(module string) bool {
	if module != moduleName {
		return false
	}
	p.asked++
	return p.asked > p.open
}

func TestBatchLiquidateStopsWhenPaused(t *testing.T) {
	h := newHarness(t, nil)
	order := h.openLoan()
	h.now = maturity(order)
	// One check for the batch and one for the first order.
	h.engine.SetPauses(&pauseAfter{open: 2})

	outcomes, err := h.engine.BatchLiquidate(h.ctx, DirectCall(h.liquidator), []uint64{order.ID, 42})
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("first order should settle before the pause: %+v", outcomes)
	}

	h.engine.SetPauses(nativecommon.NewPauseSet(moduleName))
	if _, err := h.engine.BatchLiquidate(h.ctx, DirectCall(h.liquidator), []uint64{order.ID}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused engine must reject the batch, got %v", err)
	}
}
