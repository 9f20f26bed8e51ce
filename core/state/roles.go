package state

import (
	"fmt"

	"intentlend/crypto"
)

func roleKey(addr crypto.Address) []byte {
	key := make([]byte, len(rolePrefix)+crypto.AddressLength)
	copy(key, rolePrefix)
	copy(key[len(rolePrefix):], addr[:])
	return key
}

// Roles returns the capability bitset stored for addr.
func (tx *Tx) Roles(addr crypto.Address) (uint64, error) {
	var bits uint64
	if _, err := tx.KVGet(roleKey(addr), &bits); err != nil {
		return 0, err
	}
	return bits, nil
}

// SetRoles replaces the capability bitset for addr. A zero bitset removes the
// entry.
func (tx *Tx) SetRoles(addr crypto.Address, bits uint64) error {
	if addr.IsZero() {
		return fmt.Errorf("state: role holder must not be empty")
	}
	if bits == 0 {
		return tx.KVDelete(roleKey(addr))
	}
	return tx.KVPut(roleKey(addr), bits)
}

func sequenceKey(name string) []byte {
	return append(append([]byte(nil), sequencePrefix...), name...)
}

// NextSequence increments and returns the named counter. The first value is 1.
func (tx *Tx) NextSequence(name string) (uint64, error) {
	if name == "" {
		return 0, fmt.Errorf("state: sequence name must not be empty")
	}
	var current uint64
	if _, err := tx.KVGet(sequenceKey(name), &current); err != nil {
		return 0, err
	}
	current++
	if err := tx.KVPut(sequenceKey(name), current); err != nil {
		return 0, err
	}
	return current, nil
}

// Sequence returns the last value handed out for name.
func (tx *Tx) Sequence(name string) (uint64, error) {
	var current uint64
	if _, err := tx.KVGet(sequenceKey(name), &current); err != nil {
		return 0, err
	}
	return current, nil
}
