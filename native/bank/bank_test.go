package bank

import (
	"errors"
	"math/big"
	"testing"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/storage"
)

func testAddr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestCreditTransfer(t *testing.T) {
	mgr := state.NewManager(storage.NewMemDB())
	buf := &events.Buffer{}
	mgr.SetEmitter(buf)
	alice, bob, usd := testAddr(1), testAddr(2), testAddr(9)

	err := mgr.Update(func(tx *state.Tx) error {
		if err := Credit(tx, alice, usd, big.NewInt(100)); err != nil {
			return err
		}
		return Transfer(tx, alice, bob, usd, big.NewInt(40), "test")
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		a, _ := Balance(tx, alice, usd)
		b, _ := Balance(tx, bob, usd)
		s, _ := Supply(tx, usd)
		if a.Int64() != 60 || b.Int64() != 40 || s.Int64() != 100 {
			t.Fatalf("unexpected balances a=%s b=%s supply=%s", a, b, s)
		}
		return nil
	})
	if len(buf.OfType(events.TypeTransfer)) != 1 {
		t.Fatalf("expected one transfer event")
	}

	err = mgr.Update(func(tx *state.Tx) error {
		return Transfer(tx, bob, alice, usd, big.NewInt(41), "")
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := ParseHash("0x" + "ab"); err == nil {
		t.Fatalf("short hash must fail")
	}
	h, err := ParseHash("0x0100000000000000000000000000000000000000000000000000000000000000")
	if err != nil || h[0] != 1 {
		t.Fatalf("parse hash: %v", err)
	}
	if _, err := ParseAmount("-5"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount must fail")
	}
	amt, err := ParseAmount("1000000000000000000000")
	if err != nil || amt.String() != "1000000000000000000000" {
		t.Fatalf("parse amount: %v", err)
	}
}
