package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
)

const moduleName = "escrow"

var (
	ErrReservationActive   = errors.New("escrow: reservation already active")
	ErrReservationInactive = errors.New("escrow: no active reservation")
	ErrReservationConsumed = errors.New("escrow: lend intent already consumed")
	ErrInvalidAmount       = errors.New("escrow: amount must be positive")
	errVaultNotConfigured  = errors.New("escrow: vault not configured")
)

var reservationPrefix = []byte("escrow/reservation/")

func reservationKey(hash [32]byte) []byte {
	key := make([]byte, len(reservationPrefix)+len(hash))
	copy(key, reservationPrefix)
	copy(key[len(reservationPrefix):], hash[:])
	return key
}

// Engine owns the reservation table and the escrow vault that holds reserved
// funds. The vault is also the pool entity recorded as lender on every order.
type Engine struct {
	vault  crypto.Address
	nowFn  func() int64
	pauses nativecommon.PauseView
}

// NewEngine returns a reservation engine that escrows funds into vault.
func NewEngine(vault crypto.Address) *Engine {
	return &Engine{
		vault: vault,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used to stamp reservations.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Vault returns the escrow vault address.
func (e *Engine) Vault() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.vault
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Get loads the active reservation for hash.
func (e *Engine) Get(tx *state.Tx, hash [32]byte) (*Reservation, bool, error) {
	var res Reservation
	ok, err := tx.KVGet(reservationKey(hash), &res)
	if err != nil || !ok {
		return nil, false, err
	}
	return &res, true, nil
}

// Reserve pulls amount of asset from lender into the vault and records an
// active reservation under hash.
func (e *Engine) Reserve(tx *state.Tx, lender, asset crypto.Address, amount *big.Int, hash [32]byte) (*Reservation, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.vault.IsZero() {
		return nil, errVaultNotConfigured
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if lender.IsZero() || asset.IsZero() || hash == ([32]byte{}) {
		return nil, fmt.Errorf("escrow: lender, asset and hash are required")
	}
	if _, active, err := e.Get(tx, hash); err != nil {
		return nil, err
	} else if active {
		return nil, ErrReservationActive
	}
	consumed, err := tx.IntentConsumed(hash)
	if err != nil {
		return nil, err
	}
	if consumed {
		return nil, ErrReservationConsumed
	}
	if err := bank.Transfer(tx, lender, e.vault, asset, amount, "escrow.reserve"); err != nil {
		return nil, err
	}
	res := &Reservation{
		LendHash:   hash,
		Lender:     lender,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		Active:     true,
		ReservedAt: e.now(),
	}
	if err := tx.KVPut(reservationKey(hash), res); err != nil {
		return nil, err
	}
	tx.Emit(reservationEvent(events.TypeFundsReserved, res))
	return res.Clone(), nil
}

// Cancel returns the reserved funds to the lender and clears the record. A
// second cancel for the same hash fails.
func (e *Engine) Cancel(tx *state.Tx, hash [32]byte) (*Reservation, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	res, active, err := e.Get(tx, hash)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrReservationInactive
	}
	if err := bank.Transfer(tx, e.vault, res.Lender, res.Asset, res.Amount, "escrow.cancel"); err != nil {
		return nil, err
	}
	if err := tx.KVDelete(reservationKey(hash)); err != nil {
		return nil, err
	}
	tx.Emit(reservationEvent(events.TypeReservationCanceled, res))
	return res, nil
}

// Consume clears an active reservation while leaving its funds in the vault
// for disbursement by the caller.
func (e *Engine) Consume(tx *state.Tx, hash [32]byte) (*Reservation, error) {
	res, active, err := e.Get(tx, hash)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrReservationInactive
	}
	if err := tx.KVDelete(reservationKey(hash)); err != nil {
		return nil, err
	}
	tx.Emit(reservationEvent(events.TypeReservationConsumed, res))
	return res, nil
}

func reservationEvent(kind string, res *Reservation) events.Reservation {
	return events.Reservation{
		Kind:     kind,
		LendHash: res.LendHash,
		Lender:   res.Lender,
		Asset:    res.Asset,
		Amount:   new(big.Int).Set(res.Amount),
	}
}
