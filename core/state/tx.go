package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"intentlend/core/events"
	"intentlend/storage"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx is a buffered view over the key space. Reads fall through the overlay of
// the transaction and its parents to committed storage. A Tx is not safe for
// concurrent use.
type Tx struct {
	db       storage.Database
	parent   *Tx
	readOnly bool
	writes   map[string]*pendingWrite
	order    []string
	events   []events.Event
}

func newRootTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{db: db, readOnly: readOnly, writes: make(map[string]*pendingWrite)}
}

// Nested runs fn in a child transaction. The child's writes and events are
// folded into tx only when fn succeeds; otherwise they are discarded and tx is
// left exactly as it was.
func (tx *Tx) Nested(fn func(child *Tx) error) error {
	child := &Tx{db: tx.db, parent: tx, readOnly: tx.readOnly, writes: make(map[string]*pendingWrite)}
	if err := fn(child); err != nil {
		return err
	}
	for _, key := range child.order {
		tx.stage(key, child.writes[key])
	}
	tx.events = append(tx.events, child.events...)
	return nil
}

// Emit stages an event for delivery after the root transaction commits.
func (tx *Tx) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	tx.events = append(tx.events, ev)
}

// Events returns the events staged so far.
func (tx *Tx) Events() []events.Event {
	return append([]events.Event(nil), tx.events...)
}

func (tx *Tx) stage(key string, w *pendingWrite) {
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = w
}

func (tx *Tx) lookup(key string) ([]byte, bool, error) {
	for cur := tx; cur != nil; cur = cur.parent {
		if w, ok := cur.writes[key]; ok {
			if w.deleted {
				return nil, false, nil
			}
			return w.value, true, nil
		}
	}
	value, err := tx.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) put(key []byte, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.stage(string(key), &pendingWrite{value: append([]byte(nil), value...)})
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches storage.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := tx.lookup(string(kvKey(key)))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key. Missing keys are ignored.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.stage(string(kvKey(key)), &pendingWrite{deleted: true})
	return nil
}

// KVAppend appends value to the byte slice list stored under key. Duplicate
// values are ignored to keep the index deterministic.
func (tx *Tx) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := tx.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return tx.KVPut(key, list)
}

// KVRemove drops value from the list stored under key, preserving order.
func (tx *Tx) KVRemove(key []byte, value []byte) error {
	var list [][]byte
	if err := tx.KVGetList(key, &list); err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == len(list) {
		return nil
	}
	return tx.KVPut(key, filtered)
}

// KVGetList decodes an RLP list stored under key into the slice pointed to by
// out. A missing key yields an empty slice.
func (tx *Tx) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := tx.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}
