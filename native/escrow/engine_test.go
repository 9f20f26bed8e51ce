package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/native/bank"
	nativecommon "intentlend/native/common"
	"intentlend/storage"
)

func newTestAddress(fill byte) crypto.Address {
	return crypto.MustAddress(bytes.Repeat([]byte{fill}, 20))
}

type fixture struct {
	mgr    *state.Manager
	engine *Engine
	events *events.Buffer
	lender crypto.Address
	asset  crypto.Address
	vault  crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mgr:    state.NewManager(storage.NewMemDB()),
		events: &events.Buffer{},
		lender: newTestAddress(0x01),
		asset:  newTestAddress(0xEE),
		vault:  newTestAddress(0xAA),
	}
	f.mgr.SetEmitter(f.events)
	f.engine = NewEngine(f.vault)
	f.engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := f.mgr.Update(func(tx *state.Tx) error {
		return bank.Credit(tx, f.lender, f.asset, big.NewInt(1_000))
	}); err != nil {
		t.Fatalf("fund lender: %v", err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, owner crypto.Address) int64 {
	t.Helper()
	var out int64
	_ = f.mgr.View(func(tx *state.Tx) error {
		bal, err := bank.Balance(tx, owner, f.asset)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		out = bal.Int64()
		return nil
	})
	return out
}

func (f *fixture) reserve(hash [32]byte, amount int64) error {
	return f.mgr.Update(func(tx *state.Tx) error {
		_, err := f.engine.Reserve(tx, f.lender, f.asset, big.NewInt(amount), hash)
		return err
	})
}

func (f *fixture) cancel(hash [32]byte) error {
	return f.mgr.Update(func(tx *state.Tx) error {
		_, err := f.engine.Cancel(tx, hash)
		return err
	})
}

func TestReserveCancelExactlyOnce(t *testing.T) {
	f := newFixture(t)
	hash := [32]byte{0x11}

	if err := f.reserve(hash, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := f.balance(t, f.vault); got != 400 {
		t.Fatalf("vault balance %d, want 400", got)
	}
	if err := f.reserve(hash, 400); !errors.Is(err, ErrReservationActive) {
		t.Fatalf("expected ErrReservationActive, got %v", err)
	}
	if err := f.cancel(hash); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(t, f.lender); got != 1_000 {
		t.Fatalf("lender balance %d after cancel, want 1000", got)
	}
	if err := f.cancel(hash); !errors.Is(err, ErrReservationInactive) {
		t.Fatalf("expected ErrReservationInactive on replayed cancel, got %v", err)
	}
	if err := f.reserve(hash, 250); err != nil {
		t.Fatalf("re-reserve after cancel: %v", err)
	}
	var res *Reservation
	_ = f.mgr.View(func(tx *state.Tx) error {
		res, _, _ = f.engine.Get(tx, hash)
		return nil
	})
	if res == nil || res.Amount.Int64() != 250 || !res.Active {
		t.Fatalf("re-reservation must fully reset state: %+v", res)
	}
	if n := len(f.events.OfType(events.TypeFundsReserved)); n != 2 {
		t.Fatalf("expected 2 reserve events, got %d", n)
	}
}

func TestCancelWithoutReservation(t *testing.T) {
	f := newFixture(t)
	if err := f.cancel([32]byte{0x99}); !errors.Is(err, ErrReservationInactive) {
		t.Fatalf("expected ErrReservationInactive, got %v", err)
	}
}

func TestReserveInsufficientBalanceRollsBack(t *testing.T) {
	f := newFixture(t)
	if err := f.reserve([32]byte{0x22}, 5_000); !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := f.balance(t, f.lender); got != 1_000 {
		t.Fatalf("lender balance changed: %d", got)
	}
}

func TestConsumedHashCannotBeReserved(t *testing.T) {
	f := newFixture(t)
	hash := [32]byte{0x33}
	if err := f.reserve(hash, 100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	err := f.mgr.Update(func(tx *state.Tx) error {
		if _, err := f.engine.Consume(tx, hash); err != nil {
			return err
		}
		return tx.ConsumeIntent(hash, 0, 1)
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := f.cancel(hash); !errors.Is(err, ErrReservationInactive) {
		t.Fatalf("consumed reservation must not be cancelable, got %v", err)
	}
	if err := f.reserve(hash, 100); !errors.Is(err, ErrReservationConsumed) {
		t.Fatalf("expected ErrReservationConsumed, got %v", err)
	}
	if got := f.balance(t, f.vault); got != 100 {
		t.Fatalf("consumed funds must stay in vault, got %d", got)
	}
}

func TestPausedModuleRejectsReserve(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(nativecommon.NewPauseSet(moduleName))
	if err := f.reserve([32]byte{0x44}, 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
}
