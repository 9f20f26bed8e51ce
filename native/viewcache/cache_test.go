package viewcache

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/storage"
)

func addr(fill byte) crypto.Address {
	return crypto.MustAddress(bytes.Repeat([]byte{fill}, 20))
}

func newTestCache(t *testing.T) (*state.Manager, *Cache, *MemorySink, *events.Buffer) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	buf := &events.Buffer{}
	mgr.SetEmitter(buf)
	sink := NewMemorySink("memory://test")
	cache := New(sink)
	cache.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return mgr, cache, sink, buf
}

func update(user, asset crypto.Address, collateral, debt int64) Update {
	return Update{User: user, Asset: asset, Collateral: big.NewInt(collateral), Debt: big.NewInt(debt)}
}

func TestVersionsStrictlyIncrease(t *testing.T) {
	mgr, cache, sink, _ := newTestCache(t)
	user, asset := addr(1), addr(2)
	for i := int64(1); i <= 3; i++ {
		err := mgr.Update(func(tx *state.Tx) error {
			return cache.Push(context.Background(), tx, []Update{update(user, asset, 100*i, i)}, Atomic)
		})
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	_ = mgr.View(func(tx *state.Tx) error {
		entry, ok, err := Get(tx, user, asset)
		if err != nil || !ok {
			t.Fatalf("get: %v %v", ok, err)
		}
		if entry.Version != 3 || entry.Collateral.Int64() != 300 {
			t.Fatalf("unexpected entry %+v", entry)
		}
		return nil
	})
	mirrored, err := sink.Lookup(user, asset)
	if err != nil || mirrored.Version != 3 {
		t.Fatalf("mirror out of date: %+v %v", mirrored, err)
	}
}

func TestAtomicPushFailureAbortsTransaction(t *testing.T) {
	mgr, cache, sink, buf := newTestCache(t)
	sink.FailWith(errors.New("mirror offline"))
	user, asset := addr(1), addr(2)

	err := mgr.Update(func(tx *state.Tx) error {
		if err := tx.KVPut([]byte("ledger"), uint64(7)); err != nil {
			return err
		}
		return cache.Push(context.Background(), tx, []Update{update(user, asset, 1, 1)}, Atomic)
	})
	if !errors.Is(err, ErrPushFailed) {
		t.Fatalf("expected ErrPushFailed, got %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		if ok, _ := tx.KVGet([]byte("ledger"), nil); ok {
			t.Fatalf("ledger write must roll back with the atomic push")
		}
		return nil
	})
	if len(buf.OfType(events.TypeCacheUpdateFailed)) != 0 {
		t.Fatalf("atomic failures must not emit the best-effort signal")
	}
}

func TestBestEffortPushFailureKeepsLedger(t *testing.T) {
	mgr, cache, sink, buf := newTestCache(t)
	user, asset := addr(1), addr(2)
	other := addr(3)
	sink.FailWith(errors.New("mirror offline"))

	err := mgr.Update(func(tx *state.Tx) error {
		if err := tx.KVPut([]byte("ledger"), uint64(7)); err != nil {
			return err
		}
		return cache.Push(context.Background(), tx, []Update{update(user, asset, 10, 4), update(other, asset, 5, 0)}, BestEffort)
	})
	if err != nil {
		t.Fatalf("best effort push must not fail the transaction: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		if ok, _ := tx.KVGet([]byte("ledger"), nil); !ok {
			t.Fatalf("ledger write must survive a best-effort failure")
		}
		if _, ok, _ := Get(tx, user, asset); ok {
			t.Fatalf("failed entry must not be stored")
		}
		return nil
	})
	failures := buf.OfType(events.TypeCacheUpdateFailed)
	if len(failures) != 2 {
		t.Fatalf("expected one signal per failed entry, got %d", len(failures))
	}
	signal := failures[0].(events.CacheUpdateFailed)
	if signal.User != user || signal.Asset != asset || signal.ViewAddress != "memory://test" ||
		signal.Collateral.Int64() != 10 || signal.Debt.Int64() != 4 || signal.Reason != "mirror offline" {
		t.Fatalf("unexpected signal %+v", signal)
	}
}

func TestDigestTracksVersions(t *testing.T) {
	mgr, cache, _, _ := newTestCache(t)
	user, asset := addr(1), addr(2)
	push := func(c int64) {
		t.Helper()
		if err := mgr.Update(func(tx *state.Tx) error {
			return cache.Push(context.Background(), tx, []Update{update(user, asset, c, 0), update(crypto.Address{}, asset, c, 0)}, Atomic)
		}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	digest := func() [32]byte {
		var d [32]byte
		_ = mgr.View(func(tx *state.Tx) error {
			var n int
			var err error
			d, n, err = Digest(tx)
			if err != nil || n != 2 {
				t.Fatalf("digest: n=%d err=%v", n, err)
			}
			return nil
		})
		return d
	}
	push(5)
	first := digest()
	push(5)
	if digest() == first {
		t.Fatalf("digest must change when versions advance")
	}
	_ = mgr.View(func(tx *state.Tx) error {
		stats, ok, _ := Stats(tx, asset)
		if !ok || !stats.IsStats() || stats.Version != 2 {
			t.Fatalf("unexpected stats entry %+v", stats)
		}
		return nil
	})
}

func TestCommittedWriteReplacesAbortedMirror(t *testing.T) {
	mgr, cache, good, _ := newTestCache(t)
	bad := NewMemorySink("memory://flaky")
	cache.AddSink(bad)
	user, asset := addr(1), addr(2)

	bad.FailWith(errors.New("mirror offline"))
	err := mgr.Update(func(tx *state.Tx) error {
		return cache.Push(context.Background(), tx, []Update{update(user, asset, 111, 0)}, Atomic)
	})
	if !errors.Is(err, ErrPushFailed) {
		t.Fatalf("expected ErrPushFailed, got %v", err)
	}

	bad.FailWith(nil)
	err = mgr.Update(func(tx *state.Tx) error {
		return cache.Push(context.Background(), tx, []Update{update(user, asset, 222, 0)}, Atomic)
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	mirrored, err := good.Lookup(user, asset)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if mirrored.Version != 1 || mirrored.Collateral.Int64() != 222 {
		t.Fatalf("mirror kept aborted write: %+v", mirrored)
	}
}

func orderUpdate(id uint64, status string, repaid int64, closed bool) OrderUpdate {
	return OrderUpdate{
		OrderID:  id,
		Borrower: addr(1),
		Status:   status,
		Repaid:   big.NewInt(repaid),
		TotalDue: big.NewInt(1_000),
		Closed:   closed,
	}
}

func TestOrderEntryVersionsAndClosedFlag(t *testing.T) {
	mgr, cache, sink, _ := newTestCache(t)
	steps := []OrderUpdate{
		orderUpdate(7, "active", 0, false),
		orderUpdate(7, "active", 500, false),
		orderUpdate(7, "repaid", 1_000, true),
	}
	for i, u := range steps {
		err := mgr.Update(func(tx *state.Tx) error {
			return cache.PushOrder(context.Background(), tx, u, Atomic)
		})
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		mirrored, err := sink.LookupOrder(7)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if mirrored.Version != uint64(i+1) || mirrored.Closed != u.Closed {
			t.Fatalf("step %d: unexpected mirror %+v", i, mirrored)
		}
	}

	// a later non-terminal write cannot reopen the order
	err := mgr.Update(func(tx *state.Tx) error {
		return cache.PushOrder(context.Background(), tx, orderUpdate(7, "active", 1_000, false), Atomic)
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		entry, ok, err := GetOrder(tx, 7)
		if err != nil || !ok {
			t.Fatalf("get order: %v %v", ok, err)
		}
		if !entry.Closed || entry.Version != 4 {
			t.Fatalf("unexpected entry %+v", entry)
		}
		return nil
	})
}

func TestOrderPushFailureStrategies(t *testing.T) {
	mgr, cache, sink, buf := newTestCache(t)
	sink.FailWith(errors.New("mirror offline"))

	err := mgr.Update(func(tx *state.Tx) error {
		return cache.PushOrder(context.Background(), tx, orderUpdate(3, "active", 0, false), Atomic)
	})
	if !errors.Is(err, ErrPushFailed) {
		t.Fatalf("expected ErrPushFailed, got %v", err)
	}
	if len(buf.OfType(events.TypeCacheUpdateFailed)) != 0 {
		t.Fatalf("atomic failure must not emit a cache failure signal")
	}

	err = mgr.Update(func(tx *state.Tx) error {
		return cache.PushOrder(context.Background(), tx, orderUpdate(3, "active", 0, false), BestEffort)
	})
	if err != nil {
		t.Fatalf("best-effort push: %v", err)
	}
	failed := buf.OfType(events.TypeCacheUpdateFailed)
	if len(failed) != 1 || failed[0].(events.CacheUpdateFailed).OrderID != 3 {
		t.Fatalf("expected one order failure signal, got %+v", failed)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		if _, ok, _ := GetOrder(tx, 3); ok {
			t.Fatalf("failed best-effort write must be discarded")
		}
		return nil
	})
}
