package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"intentlend/core/events"
	"intentlend/storage"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("state: read-only transaction")

// Manager owns the authoritative key space. Mutations are applied through
// Update, which runs one writer at a time against a buffered overlay and
// commits the overlay as a single storage batch. Readers use View and always
// observe the last committed state.
type Manager struct {
	db      storage.Database
	writeMu sync.Mutex
	// commitMu is held exclusively only while a batch lands so a View never
	// reads across two commits.
	commitMu sync.RWMutex
	emitter  events.Emitter
}

// NewManager creates a state manager on top of the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the sink that receives events after each commit.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// Update executes fn inside a write transaction. When fn returns an error
// nothing is written and no staged event is delivered.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := newRootTx(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := m.commit(tx); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, ev := range tx.events {
		m.emitter.Emit(ev)
	}
	return nil
}

// View executes fn against the committed state. Writes inside fn fail with
// ErrReadOnly.
func (m *Manager) View(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()
	return fn(newRootTx(m.db, true))
}

func (m *Manager) commit(tx *Tx) error {
	if len(tx.order) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, key := range tx.order {
		w := tx.writes[key]
		if w.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), w.value)
	}
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	return batch.Write()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}
