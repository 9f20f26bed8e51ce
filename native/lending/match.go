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
	"intentlend/native/escrow"
	"intentlend/native/intents"
	"intentlend/native/viewcache"
)

// MatchOrchestrator opens loans from one borrow intent and one or more lend
// intents.
type MatchOrchestrator struct {
	verifier     *intents.Verifier
	reservations *escrow.Engine
	ledger       *Ledger
	orders       *OrderRegistry
	risk         *RiskEvaluator
	views        ViewPusher
	auth         nativecommon.AuthorizationPort
	platform     crypto.Address
	feeBps       uint64
	nowFn        func() time.Time
}

// FinalizeMatch validates the full request and, inside tx, consumes every
// intent, opens the order, books the debt and disburses the loan. Every
// check runs before the first mutation, and any later failure aborts tx.
func (m *MatchOrchestrator) FinalizeMatch(ctx context.Context, tx *state.Tx, call Call, req *MatchRequest) (*LoanOrder, error) {
	if err := nativecommon.Require(m.auth, call.Origin, nativecommon.RoleMatcher); err != nil {
		return nil, err
	}
	if req == nil || len(req.Lends) == 0 {
		return nil, fmt.Errorf("%w: at least one lend intent required", ErrAmountMismatch)
	}
	if len(req.Lends) != len(req.LenderSigs) {
		return nil, ErrSignatureCount
	}
	borrow := &req.Borrow

	borrowHash, err := m.verifier.VerifyBorrowIntent(borrow, req.BorrowerSig, req.Domain)
	if err != nil {
		return nil, err
	}
	if err := m.verifier.CheckUnused(tx, borrowHash); err != nil {
		return nil, err
	}

	pool := m.reservations.Vault()
	lendHashes := make([][32]byte, len(req.Lends))
	tranches := make([]Tranche, len(req.Lends))
	seen := make(map[[32]byte]bool, len(req.Lends))
	sum := new(big.Int)
	for i := range req.Lends {
		lend := &req.Lends[i]
		hash, err := m.verifier.VerifyLendIntent(lend, req.LenderSigs[i], req.Domain)
		if err != nil {
			return nil, err
		}
		if seen[hash] || hash == borrowHash {
			return nil, ErrDuplicateIntent
		}
		seen[hash] = true
		if err := m.verifier.CheckUnused(tx, hash); err != nil {
			return nil, err
		}
		if !lend.Accepts(borrow) {
			return nil, fmt.Errorf("%w: lend intent %d", ErrTermsMismatch, i)
		}
		res, active, err := m.reservations.Get(tx, hash)
		if err != nil {
			return nil, err
		}
		if !active || !res.Matches(lend.LenderSigner, lend.Asset, lend.Amount) {
			return nil, fmt.Errorf("%w: lend intent %d", ErrNoReservation, i)
		}
		lendHashes[i] = hash
		tranches[i] = Tranche{Lender: lend.LenderSigner, LendHash: intents.Bytes32(hash), Amount: new(big.Int).Set(lend.Amount)}
		sum.Add(sum, lend.Amount)
	}
	if sum.Cmp(borrow.Amount) != 0 {
		return nil, fmt.Errorf("%w: lends %s, borrow %s", ErrAmountMismatch, sum, borrow.Amount)
	}
	collateral, err := m.ledger.Position(tx, borrow.Borrower, borrow.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if collateral.Collateral.Cmp(borrow.CollateralAmount) < 0 {
		return nil, ErrInsufficientCollateral
	}

	if err := m.verifier.Consume(tx, borrowHash, borrow.ExpireAt); err != nil {
		return nil, err
	}
	for i, hash := range lendHashes {
		if err := m.verifier.Consume(tx, hash, req.Lends[i].ExpireAt); err != nil {
			return nil, err
		}
		if _, err := m.reservations.Consume(tx, hash); err != nil {
			return nil, err
		}
	}

	now := uint64(m.nowFn().Unix())
	term := borrow.TermDays * secondsPerDay
	principal := new(big.Int).Set(borrow.Amount)
	order, err := m.orders.Create(tx, &LoanOrder{
		Borrower:        borrow.Borrower,
		Lender:          pool,
		BorrowAsset:     borrow.BorrowAsset,
		CollateralAsset: borrow.CollateralAsset,
		BorrowHash:      intents.Bytes32(borrowHash),
		Principal:       principal,
		RateBps:         borrow.RateBps,
		Term:            term,
		Start:           now,
		Maturity:        now + term,
		TotalDue:        TotalDue(principal, borrow.RateBps, term),
		Tranches:        tranches,
	})
	if err != nil {
		return nil, err
	}
	if _, err := m.ledger.AddDebt(tx, borrow.Borrower, borrow.BorrowAsset, principal); err != nil {
		return nil, err
	}
	if liquidatable, hf, err := m.risk.IsLiquidatable(tx, borrow.Borrower); err != nil {
		return nil, err
	} else if liquidatable {
		return nil, fmt.Errorf("%w: health factor %d bps", ErrUndercollateralized, hf)
	}

	fee := bps(principal, m.feeBps)
	net := new(big.Int).Sub(principal, fee)
	if err := bank.Transfer(tx, pool, borrow.Borrower, borrow.BorrowAsset, net, "loan.disburse"); err != nil {
		return nil, err
	}
	if err := bank.Transfer(tx, pool, m.platform, borrow.BorrowAsset, fee, "loan.fee"); err != nil {
		return nil, err
	}

	updates, err := viewUpdates(tx, m.ledger, borrow.Borrower, borrow.BorrowAsset, borrow.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if err := m.views.Push(ctx, tx, updates, viewcache.Atomic); err != nil {
		return nil, err
	}
	if err := m.views.PushOrder(ctx, tx, orderView(order), viewcache.Atomic); err != nil {
		return nil, err
	}
	tx.Emit(events.LoanCreated{
		OrderID:         order.ID,
		Borrower:        order.Borrower,
		Lender:          order.Lender,
		BorrowAsset:     order.BorrowAsset,
		CollateralAsset: order.CollateralAsset,
		Principal:       new(big.Int).Set(order.Principal),
		RateBps:         order.RateBps,
		Term:            order.Term,
		Maturity:        order.Maturity,
		Fee:             fee,
		Tranches:        len(order.Tranches),
	})
	return order, nil
}
