package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
	"intentlend/native/escrow"
	"intentlend/native/intents"
	"intentlend/native/viewcache"
)

const moduleName = "lending"

// requiredServices lists every component the engine resolves at startup.
var requiredServices = []nativecommon.ServiceKey{
	nativecommon.KeyAuthorization,
	nativecommon.KeyReservations,
	nativecommon.KeyVerifier,
	nativecommon.KeyLedger,
	nativecommon.KeyPenalties,
	nativecommon.KeyOrders,
	nativecommon.KeyRisk,
	nativecommon.KeyPayout,
	nativecommon.KeyViewCache,
}

// Options describes the components NewRegistry assembles.
type Options struct {
	Config     Config
	Accounts   Accounts
	Domain     intents.Domain
	Validators *intents.ValidatorRegistry
	Oracle     PriceOracle
	// Authorization defaults to roles stored in state.
	Authorization nativecommon.AuthorizationPort
	// Views defaults to a view cache without external sinks.
	Views ViewPusher
}

// NewRegistry builds the standard component set over st.
func NewRegistry(st *state.Manager, opts Options) (*nativecommon.Registry, error) {
	if st == nil {
		return nil, errStateNotConfigured
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("lending: price oracle required")
	}
	cfg := opts.Config
	cfg.EnsureDefaults()
	auth := opts.Authorization
	if auth == nil {
		auth = nativecommon.StateAuthorizer{State: st}
	}
	views := opts.Views
	if views == nil {
		views = viewcache.New()
	}
	verifier := intents.NewVerifier(opts.Domain, opts.Validators)
	verifier.SetStrictErrorTaxonomy(cfg.StrictErrorTaxonomy)
	ledger := NewLedger(opts.Accounts.CollateralVault)

	reg := nativecommon.NewRegistry()
	services := []struct {
		key    nativecommon.ServiceKey
		handle any
	}{
		{nativecommon.KeyAuthorization, auth},
		{nativecommon.KeyReservations, escrow.NewEngine(opts.Accounts.Pool)},
		{nativecommon.KeyVerifier, verifier},
		{nativecommon.KeyLedger, ledger},
		{nativecommon.KeyPenalties, NewPenaltyLedger(opts.Accounts.Platform)},
		{nativecommon.KeyOrders, NewOrderRegistry()},
		{nativecommon.KeyRisk, NewRiskEvaluator(ledger, opts.Oracle, cfg.MinHealthFactorBps)},
		{nativecommon.KeyPayout, NewPayoutDistributor(cfg)},
		{nativecommon.KeyViewCache, views},
	}
	for _, s := range services {
		if err := reg.Register(s.key, s.handle); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Engine is the transactional facade over the lending components. Every
// mutating method runs as one state.Manager update; queries read the last
// committed state.
type Engine struct {
	state    *state.Manager
	cfg      Config
	accounts Accounts

	auth         nativecommon.AuthorizationPort
	reservations *escrow.Engine
	verifier     *intents.Verifier
	ledger       *Ledger
	penalties    *PenaltyLedger
	orders       *OrderRegistry
	risk         *RiskEvaluator
	payout       *PayoutDistributor
	views        ViewPusher

	match      *MatchOrchestrator
	settlement *SettlementRouter

	pauses nativecommon.PauseView
	nowFn  func() time.Time
	logger *slog.Logger
}

// NewEngine resolves every component from reg and wires the orchestrators.
func NewEngine(st *state.Manager, reg *nativecommon.Registry, cfg Config, accounts Accounts) (*Engine, error) {
	if st == nil {
		return nil, errStateNotConfigured
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := accounts.Validate(); err != nil {
		return nil, err
	}
	if err := reg.Validate(requiredServices...); err != nil {
		return nil, err
	}
	e := &Engine{state: st, cfg: cfg, accounts: accounts, nowFn: time.Now, logger: slog.Default()}
	var err error
	if e.auth, err = nativecommon.Resolve[nativecommon.AuthorizationPort](reg, nativecommon.KeyAuthorization); err != nil {
		return nil, err
	}
	if e.reservations, err = nativecommon.Resolve[*escrow.Engine](reg, nativecommon.KeyReservations); err != nil {
		return nil, err
	}
	if e.verifier, err = nativecommon.Resolve[*intents.Verifier](reg, nativecommon.KeyVerifier); err != nil {
		return nil, err
	}
	if e.ledger, err = nativecommon.Resolve[*Ledger](reg, nativecommon.KeyLedger); err != nil {
		return nil, err
	}
	if e.penalties, err = nativecommon.Resolve[*PenaltyLedger](reg, nativecommon.KeyPenalties); err != nil {
		return nil, err
	}
	if e.orders, err = nativecommon.Resolve[*OrderRegistry](reg, nativecommon.KeyOrders); err != nil {
		return nil, err
	}
	if e.risk, err = nativecommon.Resolve[*RiskEvaluator](reg, nativecommon.KeyRisk); err != nil {
		return nil, err
	}
	if e.payout, err = nativecommon.Resolve[*PayoutDistributor](reg, nativecommon.KeyPayout); err != nil {
		return nil, err
	}
	if e.views, err = nativecommon.Resolve[ViewPusher](reg, nativecommon.KeyViewCache); err != nil {
		return nil, err
	}
	if e.reservations.Vault() != accounts.Pool {
		return nil, fmt.Errorf("lending: reservation vault %s is not the pool %s", e.reservations.Vault(), accounts.Pool)
	}
	if e.ledger.Vault() != accounts.CollateralVault {
		return nil, fmt.Errorf("lending: ledger vault %s is not the collateral vault %s", e.ledger.Vault(), accounts.CollateralVault)
	}

	e.match = &MatchOrchestrator{
		verifier:     e.verifier,
		reservations: e.reservations,
		ledger:       e.ledger,
		orders:       e.orders,
		risk:         e.risk,
		views:        e.views,
		auth:         e.auth,
		platform:     accounts.Platform,
		feeBps:       cfg.ProtocolFeeBps,
		nowFn:        e.now,
	}
	e.settlement = &SettlementRouter{
		orders:    e.orders,
		ledger:    e.ledger,
		risk:      e.risk,
		payout:    e.payout,
		penalties: e.penalties,
		views:     e.views,
		auth:      e.auth,
		accounts:  accounts,
		cfg:       cfg,
		nowFn:     e.now,
	}
	return e, nil
}

// SetClock overrides the time source of the engine and its components.
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
	e.verifier.SetClock(now)
	e.reservations.SetNowFunc(func() int64 { return now().Unix() })
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger.With("module", moduleName)
	e.verifier.SetLogger(e.logger)
}

// SetPauses installs the pause switchboard consulted by every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.pauses = p
	e.reservations.SetPauses(p)
}

func (e *Engine) now() time.Time { return e.nowFn() }

func (e *Engine) guard() error { return nativecommon.Guard(e.pauses, moduleName) }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Accounts() Accounts { return e.accounts }

func (e *Engine) Domain() intents.Domain { return e.verifier.Domain() }

// update runs fn as one mutating transaction behind the pause guard.
func (e *Engine) update(fn func(tx *state.Tx) error) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.state.Update(fn)
}

func (e *Engine) pushPositions(ctx context.Context, tx *state.Tx, user crypto.Address, assets []crypto.Address, strategy viewcache.Strategy) error {
	updates, err := viewUpdates(tx, e.ledger, user, assets...)
	if err != nil {
		return err
	}
	return e.views.Push(ctx, tx, updates, strategy)
}

// Deposit moves amount of asset from the caller's wallet into collateral.
func (e *Engine) Deposit(ctx context.Context, call Call, asset crypto.Address, amount *big.Int) (*Position, error) {
	var pos *Position
	err := e.update(func(tx *state.Tx) error {
		var err error
		if pos, err = e.ledger.Deposit(tx, call.Origin, asset, amount); err != nil {
			return err
		}
		return e.pushPositions(ctx, tx, call.Origin, []crypto.Address{asset}, viewcache.Atomic)
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Withdraw returns collateral to the caller's wallet. The caller must remain
// above the minimum health factor afterwards.
func (e *Engine) Withdraw(ctx context.Context, call Call, asset crypto.Address, amount *big.Int) (*Position, error) {
	var pos *Position
	err := e.update(func(tx *state.Tx) error {
		var err error
		if pos, err = e.ledger.Withdraw(tx, call.Origin, asset, amount); err != nil {
			return err
		}
		if liquidatable, hf, err := e.risk.IsLiquidatable(tx, call.Origin); err != nil {
			return err
		} else if liquidatable {
			return fmt.Errorf("%w: health factor %d bps after withdrawal", ErrUndercollateralized, hf)
		}
		return e.pushPositions(ctx, tx, call.Origin, []crypto.Address{asset}, viewcache.Atomic)
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Reserve escrows amount of asset from the caller against lendHash.
func (e *Engine) Reserve(_ context.Context, call Call, asset crypto.Address, amount *big.Int, lendHash [32]byte) (*escrow.Reservation, error) {
	var res *escrow.Reservation
	err := e.update(func(tx *state.Tx) error {
		var err error
		res, err = e.reservations.Reserve(tx, call.Origin, asset, amount, lendHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Cancel refunds an active reservation. Only the reserving lender or an
// operator may cancel.
func (e *Engine) Cancel(_ context.Context, call Call, lendHash [32]byte) (*escrow.Reservation, error) {
	var res *escrow.Reservation
	err := e.update(func(tx *state.Tx) error {
		current, active, err := e.reservations.Get(tx, lendHash)
		if err != nil {
			return err
		}
		if active && current.Lender != call.Origin {
			if err := nativecommon.Require(e.auth, call.Origin, nativecommon.RoleOperator); err != nil {
				return err
			}
		}
		res, err = e.reservations.Cancel(tx, lendHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FinalizeMatch opens a loan from a signed borrow intent and its funding lend
// intents.
func (e *Engine) FinalizeMatch(ctx context.Context, call Call, req *MatchRequest) (*LoanOrder, error) {
	var order *LoanOrder
	err := e.update(func(tx *state.Tx) error {
		var err error
		order, err = e.match.FinalizeMatch(ctx, tx, call, req)
		return err
	})
	if err != nil {
		e.logger.Debug("match rejected", "origin", call.Origin.String(), "error", err)
		return nil, err
	}
	e.logger.Info("loan opened", "order", order.ID, "borrower", order.Borrower.String(),
		"principal", order.Principal.String(), "tranches", len(order.Tranches))
	return order, nil
}

// Repay applies a repayment from the caller.
func (e *Engine) Repay(ctx context.Context, call Call, orderID uint64, asset crypto.Address, amount *big.Int) (*RepayResult, error) {
	var result *RepayResult
	err := e.update(func(tx *state.Tx) error {
		var err error
		result, err = e.settlement.Repay(ctx, tx, call, orderID, asset, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Status == OrderRepaid {
		e.logger.Info("loan repaid", "order", orderID)
	}
	return result, nil
}

// SettleOrLiquidate liquidates an overdue or unhealthy order atomically.
func (e *Engine) SettleOrLiquidate(ctx context.Context, call Call, orderID uint64) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.update(func(tx *state.Tx) error {
		var err error
		result, err = e.settlement.SettleOrLiquidate(ctx, tx, call, orderID, viewcache.Atomic)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("loan liquidated", "order", orderID, "liquidator", result.Liquidator.String(),
		"seized", result.Seized.String(), "overdue", result.Overdue)
	return result, nil
}

// SettlePenalty pays down user's accrued penalty in asset from the caller's
// wallet.
func (e *Engine) SettlePenalty(_ context.Context, call Call, user, asset crypto.Address, amount *big.Int) (paid, remaining *big.Int, err error) {
	err = e.update(func(tx *state.Tx) error {
		var err error
		paid, remaining, err = e.penalties.Settle(tx, call.Origin, user, asset, amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return paid, remaining, nil
}

// RefreshViews re-pushes every position of users with best-effort semantics
// and returns how many users were refreshed.
func (e *Engine) RefreshViews(ctx context.Context, call Call, users []crypto.Address) (int, error) {
	if err := nativecommon.Require(e.auth, call.Origin, nativecommon.RoleOperator); err != nil {
		return 0, err
	}
	refreshed := 0
	err := e.update(func(tx *state.Tx) error {
		for _, user := range users {
			assets, err := e.ledger.Assets(tx, user)
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				continue
			}
			if err := e.pushPositions(ctx, tx, user, assets, viewcache.BestEffort); err != nil {
				return err
			}
			refreshed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return refreshed, nil
}

// Credit mints amount of asset into owner's wallet. Operators only.
func (e *Engine) Credit(_ context.Context, call Call, owner, asset crypto.Address, amount *big.Int) error {
	if err := nativecommon.Require(e.auth, call.Origin, nativecommon.RoleOperator); err != nil {
		return err
	}
	return e.update(func(tx *state.Tx) error {
		return bank.Credit(tx, owner, asset, amount)
	})
}

// GrantRoles adds roles to holder. Admins only.
func (e *Engine) GrantRoles(_ context.Context, call Call, holder crypto.Address, roles nativecommon.Role) error {
	if err := nativecommon.Require(e.auth, call.Origin, nativecommon.RoleAdmin); err != nil {
		return err
	}
	return e.update(func(tx *state.Tx) error {
		return nativecommon.Grant(tx, holder, roles)
	})
}

// RevokeRoles removes roles from holder. Admins only.
func (e *Engine) RevokeRoles(_ context.Context, call Call, holder crypto.Address, roles nativecommon.Role) error {
	if err := nativecommon.Require(e.auth, call.Origin, nativecommon.RoleAdmin); err != nil {
		return err
	}
	return e.update(func(tx *state.Tx) error {
		return nativecommon.Revoke(tx, holder, roles)
	})
}

// SeedRoles grants roles without an authorization check. It is meant for
// genesis wiring before the engine serves traffic.
func (e *Engine) SeedRoles(grants map[crypto.Address]nativecommon.Role) error {
	return e.state.Update(func(tx *state.Tx) error {
		for holder, roles := range grants {
			if err := nativecommon.Grant(tx, holder, roles); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) view(fn func(tx *state.Tx) error) error { return e.state.View(fn) }

func (e *Engine) Position(user, asset crypto.Address) (*Position, error) {
	var pos *Position
	err := e.view(func(tx *state.Tx) error {
		var err error
		pos, err = e.ledger.Position(tx, user, asset)
		return err
	})
	return pos, err
}

func (e *Engine) Positions(user crypto.Address) ([]*Position, error) {
	var out []*Position
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = e.ledger.Positions(tx, user)
		return err
	})
	return out, err
}

func (e *Engine) Totals(asset crypto.Address) (*AssetTotals, error) {
	var out *AssetTotals
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = e.ledger.Totals(tx, asset)
		return err
	})
	return out, err
}

// CheckConservation verifies the collateral books of asset against the vault.
func (e *Engine) CheckConservation(asset crypto.Address) error {
	return e.view(func(tx *state.Tx) error { return e.ledger.CheckConservation(tx, asset) })
}

func (e *Engine) Balance(owner, asset crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = bank.Balance(tx, owner, asset)
		return err
	})
	return out, err
}

func (e *Engine) Order(id uint64) (*LoanOrder, error) {
	var order *LoanOrder
	err := e.view(func(tx *state.Tx) error {
		var err error
		order, err = e.orders.Get(tx, id)
		return err
	})
	return order, err
}

// OrdersByBorrower returns every order opened by borrower, oldest first.
func (e *Engine) OrdersByBorrower(borrower crypto.Address) ([]*LoanOrder, error) {
	var out []*LoanOrder
	err := e.view(func(tx *state.Tx) error {
		ids, err := e.orders.ByBorrower(tx, borrower)
		if err != nil {
			return err
		}
		out = make([]*LoanOrder, 0, len(ids))
		for _, id := range ids {
			order, err := e.orders.Get(tx, id)
			if err != nil {
				return err
			}
			out = append(out, order)
		}
		return nil
	})
	return out, err
}

func (e *Engine) HealthFactor(user crypto.Address) (uint64, error) {
	var hf uint64
	err := e.view(func(tx *state.Tx) error {
		var err error
		hf, err = e.risk.HealthFactor(tx, user)
		return err
	})
	return hf, err
}

// Reservation returns the active reservation for lendHash, if any.
func (e *Engine) Reservation(lendHash [32]byte) (*escrow.Reservation, bool, error) {
	var (
		res    *escrow.Reservation
		active bool
	)
	err := e.view(func(tx *state.Tx) error {
		var err error
		res, active, err = e.reservations.Get(tx, lendHash)
		return err
	})
	return res, active, err
}

// IntentConsumed reports whether an intent hash has been spent.
func (e *Engine) IntentConsumed(hash [32]byte) (bool, error) {
	var consumed bool
	err := e.view(func(tx *state.Tx) error {
		var err error
		consumed, err = tx.IntentConsumed(hash)
		return err
	})
	return consumed, err
}

func (e *Engine) Penalty(user, asset crypto.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = e.penalties.Outstanding(tx, user, asset)
		return err
	})
	return out, err
}

// ViewEntry returns the cached entry for (user, asset). A zero user selects
// the asset statistics entry.
func (e *Engine) ViewEntry(user, asset crypto.Address) (*viewcache.Entry, bool, error) {
	var (
		entry *viewcache.Entry
		ok    bool
	)
	err := e.view(func(tx *state.Tx) error {
		var err error
		entry, ok, err = viewcache.Get(tx, user, asset)
		return err
	})
	return entry, ok, err
}

// OrderView returns the cached lifecycle entry of order id.
func (e *Engine) OrderView(id uint64) (*viewcache.OrderEntry, bool, error) {
	var (
		entry *viewcache.OrderEntry
		ok    bool
	)
	err := e.view(func(tx *state.Tx) error {
		var err error
		entry, ok, err = viewcache.GetOrder(tx, id)
		return err
	})
	return entry, ok, err
}

// ViewDigest returns the blake3 digest over every cached entry and the entry
// count.
func (e *Engine) ViewDigest() ([32]byte, int, error) {
	var (
		digest [32]byte
		count  int
	)
	err := e.view(func(tx *state.Tx) error {
		var err error
		digest, count, err = viewcache.Digest(tx)
		return err
	})
	return digest, count, err
}

// VerifyBorrowIntent checks a borrow intent against the engine domain without
// consuming it.
func (e *Engine) VerifyBorrowIntent(intent *intents.BorrowIntent, sig []byte) ([32]byte, error) {
	return e.verifier.VerifyBorrowIntent(intent, sig, e.verifier.Domain())
}

// VerifyLendIntent checks a lend intent against the engine domain without
// consuming it.
func (e *Engine) VerifyLendIntent(intent *intents.LendIntent, sig []byte) ([32]byte, error) {
	return e.verifier.VerifyLendIntent(intent, sig, e.verifier.Domain())
}
