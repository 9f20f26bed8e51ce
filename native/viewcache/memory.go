package viewcache

import (
	"context"
	"errors"
	"sync"

	"intentlend/crypto"
)

// MemorySink keeps the latest mirrored entries in process memory. It serves
// as the reference mirror in tests.
type MemorySink struct {
	name    string
	mu      sync.RWMutex
	entries map[[2 * crypto.AddressLength]byte]Entry
	orders  map[uint64]OrderEntry
	failErr error
}

func NewMemorySink(name string) *MemorySink {
	if name == "" {
		name = "memory://views"
	}
	return &MemorySink{
		name:    name,
		entries: make(map[[2 * crypto.AddressLength]byte]Entry),
		orders:  make(map[uint64]OrderEntry),
	}
}

func (m *MemorySink) Name() string { return m.name }

// FailWith makes every subsequent write fail with err. Pass nil to recover.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Write keeps entry unless a strictly newer version is mirrored. An equal
// version replaces the stored one, since the earlier write may belong to an
// aborted transaction.
func (m *MemorySink) Write(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	var key [2 * crypto.AddressLength]byte
	copy(key[:], indexValue(entry.User, entry.Asset))
	if existing, ok := m.entries[key]; ok && existing.Version > entry.Version {
		return nil
	}
	m.entries[key] = entry
	return nil
}

// WriteOrder mirrors an order entry with the same version rule as Write.
func (m *MemorySink) WriteOrder(_ context.Context, entry OrderEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if existing, ok := m.orders[entry.OrderID]; ok && existing.Version > entry.Version {
		return nil
	}
	m.orders[entry.OrderID] = entry
	return nil
}

// LookupOrder returns the mirrored entry of order id.
func (m *MemorySink) LookupOrder(id uint64) (OrderEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.orders[id]
	if !ok {
		return OrderEntry{}, errEntryMissing
	}
	return entry, nil
}

var errEntryMissing = errors.New("viewcache: entry not mirrored")

// Lookup returns the mirrored entry for (user, asset).
func (m *MemorySink) Lookup(user, asset crypto.Address) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var key [2 * crypto.AddressLength]byte
	copy(key[:], indexValue(user, asset))
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, errEntryMissing
	}
	return entry, nil
}

func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
