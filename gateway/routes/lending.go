package routes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intentlend/crypto"
	"intentlend/gateway/middleware"
	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
	"intentlend/native/escrow"
	"intentlend/native/intents"
	"intentlend/native/lending"
	"intentlend/native/viewcache"
	"intentlend/observability"
)

const lendingRequestLimit = 1 << 20 // 1 MiB

// Engine is the subset of *lending.Engine served over HTTP.
type Engine interface {
	Deposit(ctx context.Context, call lending.Call, asset crypto.Address, amount *big.Int) (*lending.Position, error)
	Withdraw(ctx context.Context, call lending.Call, asset crypto.Address, amount *big.Int) (*lending.Position, error)
	Reserve(ctx context.Context, call lending.Call, asset crypto.Address, amount *big.Int, lendHash [32]byte) (*escrow.Reservation, error)
	Cancel(ctx context.Context, call lending.Call, lendHash [32]byte) (*escrow.Reservation, error)
	FinalizeMatch(ctx context.Context, call lending.Call, req *lending.MatchRequest) (*lending.LoanOrder, error)
	Repay(ctx context.Context, call lending.Call, orderID uint64, asset crypto.Address, amount *big.Int) (*lending.RepayResult, error)
	SettleOrLiquidate(ctx context.Context, call lending.Call, orderID uint64) (*lending.LiquidationResult, error)
	BatchLiquidate(ctx context.Context, call lending.Call, orderIDs []uint64) ([]lending.BatchOutcome, error)
	SettlePenalty(ctx context.Context, call lending.Call, user, asset crypto.Address, amount *big.Int) (*big.Int, *big.Int, error)
	RefreshViews(ctx context.Context, call lending.Call, users []crypto.Address) (int, error)
	Credit(ctx context.Context, call lending.Call, owner, asset crypto.Address, amount *big.Int) error
	GrantRoles(ctx context.Context, call lending.Call, holder crypto.Address, roles nativecommon.Role) error
	RevokeRoles(ctx context.Context, call lending.Call, holder crypto.Address, roles nativecommon.Role) error

	Position(user, asset crypto.Address) (*lending.Position, error)
	Positions(user crypto.Address) ([]*lending.Position, error)
	Totals(asset crypto.Address) (*lending.AssetTotals, error)
	Balance(owner, asset crypto.Address) (*big.Int, error)
	Order(id uint64) (*lending.LoanOrder, error)
	OrdersByBorrower(borrower crypto.Address) ([]*lending.LoanOrder, error)
	HealthFactor(user crypto.Address) (uint64, error)
	FindLiquidatable(limit int) ([]lending.Candidate, error)
	Reservation(lendHash [32]byte) (*escrow.Reservation, bool, error)
	IntentConsumed(hash [32]byte) (bool, error)
	Penalty(user, asset crypto.Address) (*big.Int, error)
	ViewEntry(user, asset crypto.Address) (*viewcache.Entry, bool, error)
	ViewDigest() ([32]byte, int, error)
	OrderView(id uint64) (*viewcache.OrderEntry, bool, error)
	Domain() intents.Domain
}

// Amount decodes a base-unit integer from a JSON string or number.
type Amount struct{ *big.Int }

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "null" {
		return errors.New("amount required")
	}
	v, err := bank.ParseAmount(raw)
	if err != nil {
		return err
	}
	a.Int = v
	return nil
}

func (a Amount) value() *big.Int {
	if a.Int == nil {
		return big.NewInt(0)
	}
	return a.Int
}

type assetAmountRequest struct {
	Asset  crypto.Address `json:"asset"`
	Amount Amount         `json:"amount"`
}

type reserveRequest struct {
	Asset    crypto.Address  `json:"asset"`
	Amount   Amount          `json:"amount"`
	LendHash intents.Bytes32 `json:"lendHash"`
}

type batchRequest struct {
	OrderIDs []uint64 `json:"orderIds"`
}

type penaltyRequest struct {
	User   crypto.Address `json:"user"`
	Asset  crypto.Address `json:"asset"`
	Amount Amount         `json:"amount"`
}

type refreshRequest struct {
	Users []crypto.Address `json:"users"`
}

type creditRequest struct {
	Owner  crypto.Address `json:"owner"`
	Asset  crypto.Address `json:"asset"`
	Amount Amount         `json:"amount"`
}

type rolesRequest struct {
	Holder crypto.Address `json:"holder"`
	Roles  []string       `json:"roles"`
	Grant  bool           `json:"grant"`
}

// lendingRoutes serves the engine API.
type lendingRoutes struct {
	engine  Engine
	timeout time.Duration
}

func newLendingRoutes(engine Engine, timeout time.Duration) *lendingRoutes {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lendingRoutes{engine: engine, timeout: timeout}
}

func (lr *lendingRoutes) mountWrites(r chi.Router) {
	r.Post("/deposit", lr.deposit)
	r.Post("/withdraw", lr.withdraw)
	r.Post("/reservations", lr.reserve)
	r.Delete("/reservations/{hash}", lr.cancel)
	r.Post("/matches", lr.finalizeMatch)
	r.Post("/orders/{id}/repay", lr.repay)
	r.Post("/orders/{id}/liquidate", lr.liquidate)
	r.Post("/liquidations/batch", lr.batchLiquidate)
	r.Post("/penalties/settle", lr.settlePenalty)
	r.Post("/views/refresh", lr.refreshViews)
	r.Post("/admin/credit", lr.credit)
	r.Post("/admin/roles", lr.roles)
}

func (lr *lendingRoutes) mountReads(r chi.Router) {
	r.Get("/domain", lr.domain)
	r.Get("/positions/{user}", lr.positions)
	r.Get("/positions/{user}/health", lr.health)
	r.Get("/totals/{asset}", lr.totals)
	r.Get("/balances/{owner}/{asset}", lr.balance)
	r.Get("/orders/{id}", lr.order)
	r.Get("/borrowers/{user}/orders", lr.ordersByBorrower)
	r.Get("/liquidations/candidates", lr.candidates)
	r.Get("/reservations/{hash}", lr.reservation)
	r.Get("/intents/{hash}", lr.intent)
	r.Get("/penalties/{user}/{asset}", lr.penalty)
	r.Get("/views/digest", lr.viewDigest)
	r.Get("/views/orders/{id}", lr.orderView)
	r.Get("/views/{user}/{asset}", lr.viewEntry)
}

func (lr *lendingRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, lr.timeout)
}

// observe records the engine outcome of a handler under the "lending" module.
func observe(method string, start time.Time, err error) {
	observability.ModuleMetrics().Observe("lending", method, statusFor(err), time.Since(start))
}

func callFrom(r *http.Request) (lending.Call, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return lending.Call{}, errNoCaller
	}
	return lending.DirectCall(caller), nil
}

func (lr *lendingRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	lr.assetAmount(w, r, "deposit", lr.engine.Deposit)
}

func (lr *lendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	lr.assetAmount(w, r, "withdraw", lr.engine.Withdraw)
}

type positionOp func(context.Context, lending.Call, crypto.Address, *big.Int) (*lending.Position, error)

func (lr *lendingRoutes) assetAmount(w http.ResponseWriter, r *http.Request, method string, op positionOp) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req assetAmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	pos, err := op(ctx, call, req.Asset, req.Amount.value())
	observe(method, start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (lr *lendingRoutes) reserve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req reserveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	res, err := lr.engine.Reserve(ctx, call, req.Asset, req.Amount.value(), req.LendHash)
	observe("reserve", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservationView(res, true))
}

func (lr *lendingRoutes) cancel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	hash, err := hashParam(r, "hash")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	res, err := lr.engine.Cancel(ctx, call, hash)
	observe("cancel", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationView(res, false))
}

func (lr *lendingRoutes) finalizeMatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req lending.MatchRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	order, err := lr.engine.FinalizeMatch(ctx, call, &req)
	observe("finalizeMatch", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	id, err := orderParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req assetAmountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	res, err := lr.engine.Repay(ctx, call, id, req.Asset, req.Amount.value())
	observe("repay", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (lr *lendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	id, err := orderParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	res, err := lr.engine.SettleOrLiquidate(ctx, call, id)
	observe("settleOrLiquidate", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (lr *lendingRoutes) batchLiquidate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req batchRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	outcomes, err := lr.engine.BatchLiquidate(ctx, call, req.OrderIDs)
	observe("batchLiquidate", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func (lr *lendingRoutes) settlePenalty(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req penaltyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	paid, remaining, err := lr.engine.SettlePenalty(ctx, call, req.User, req.Asset, req.Amount.value())
	observe("settlePenalty", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String(), "remaining": remaining.String()})
}

func (lr *lendingRoutes) refreshViews(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req refreshRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	pushed, err := lr.engine.RefreshViews(ctx, call, req.Users)
	observe("refreshViews", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pushed": pushed})
}

func (lr *lendingRoutes) credit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req creditRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	err = lr.engine.Credit(ctx, call, req.Owner, req.Asset, req.Amount.value())
	observe("credit", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	balance, err := lr.engine.Balance(req.Owner, req.Asset)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (lr *lendingRoutes) roles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	call, err := callFrom(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req rolesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	roles, err := nativecommon.ParseRoles(req.Roles...)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if req.Grant {
		err = lr.engine.GrantRoles(ctx, call, req.Holder, roles)
	} else {
		err = lr.engine.RevokeRoles(ctx, call, req.Holder, roles)
	}
	observe("roles", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (lr *lendingRoutes) domain(w http.ResponseWriter, _ *http.Request) {
	domain := lr.engine.Domain()
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":    domain,
		"separator": "0x" + hex.EncodeToString(domain.Separator()),
	})
}

func (lr *lendingRoutes) positions(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if raw := r.URL.Query().Get("asset"); raw != "" {
		asset, err := crypto.ParseAddress(raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("asset: %w", err))
			return
		}
		pos, err := lr.engine.Position(user, asset)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
		return
	}
	list, err := lr.engine.Positions(user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": list})
}

func (lr *lendingRoutes) health(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	hf, err := lr.engine.HealthFactor(user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"healthFactorBps": hf})
}

func (lr *lendingRoutes) totals(w http.ResponseWriter, r *http.Request) {
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	totals, err := lr.engine.Totals(asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (lr *lendingRoutes) balance(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := lr.engine.Balance(owner, asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (lr *lendingRoutes) order(w http.ResponseWriter, r *http.Request) {
	id, err := orderParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := lr.engine.Order(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (lr *lendingRoutes) ordersByBorrower(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	orders, err := lr.engine.OrdersByBorrower(user)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (lr *lendingRoutes) candidates(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	found, err := lr.engine.FindLiquidatable(limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": found})
}

func (lr *lendingRoutes) reservation(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r, "hash")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	res, active, err := lr.engine.Reservation(hash)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res == nil {
		writeJSONError(w, http.StatusNotFound, errors.New("reservation not found"))
		return
	}
	writeJSON(w, http.StatusOK, reservationView(res, active))
}

func (lr *lendingRoutes) intent(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r, "hash")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	consumed, err := lr.engine.IntentConsumed(hash)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consumed": consumed})
}

func (lr *lendingRoutes) penalty(w http.ResponseWriter, r *http.Request) {
	user, err := addressParam(r, "user")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	outstanding, err := lr.engine.Penalty(user, asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outstanding": outstanding.String()})
}

func (lr *lendingRoutes) viewEntry(w http.ResponseWriter, r *http.Request) {
	var user crypto.Address
	if raw := chi.URLParam(r, "user"); raw != "stats" {
		parsed, err := crypto.ParseAddress(raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("user: %w", err))
			return
		}
		user = parsed
	}
	asset, err := addressParam(r, "asset")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entry, ok, err := lr.engine.ViewEntry(user, asset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, errors.New("view entry not found"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (lr *lendingRoutes) orderView(w http.ResponseWriter, r *http.Request) {
	id, err := orderParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entry, ok, err := lr.engine.OrderView(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, errors.New("order view not found"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (lr *lendingRoutes) viewDigest(w http.ResponseWriter, _ *http.Request) {
	digest, count, err := lr.engine.ViewDigest()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"digest":  "0x" + hex.EncodeToString(digest[:]),
		"entries": count,
	})
}

type reservationJSON struct {
	LendHash   intents.Bytes32 `json:"lendHash"`
	Lender     crypto.Address  `json:"lender"`
	Asset      crypto.Address  `json:"asset"`
	Amount     string          `json:"amount"`
	Active     bool            `json:"active"`
	ReservedAt uint64          `json:"reservedAt"`
}

func reservationView(res *escrow.Reservation, active bool) reservationJSON {
	out := reservationJSON{Active: active}
	if res == nil {
		return out
	}
	out.LendHash = intents.Bytes32(res.LendHash)
	out.Lender = res.Lender
	out.Asset = res.Asset
	out.Amount = "0"
	if res.Amount != nil {
		out.Amount = res.Amount.String()
	}
	out.ReservedAt = res.ReservedAt
	return out
}

func addressParam(r *http.Request, name string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func hashParam(r *http.Request, name string) ([32]byte, error) {
	hash, err := bank.ParseHash(chi.URLParam(r, name))
	if err != nil {
		return [32]byte{}, fmt.Errorf("%s: %w", name, err)
	}
	return hash, nil
}

func orderParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, lendingRequestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
