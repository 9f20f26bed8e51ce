package state

import (
	"errors"
)

var (
	// ErrIntentConsumed indicates the intent hash has already been spent.
	ErrIntentConsumed = errors.New("intent: already consumed")
)

// IntentRecord marks a consumed intent hash. Expiry is the intent's own
// expireAt so operators can prune records that can never be replayed anyway.
type IntentRecord struct {
	Expiry     uint64
	ConsumedAt uint64
}

func intentRegistryKey(hash [32]byte) []byte {
	key := make([]byte, len(intentRegistryPrefix)+len(hash))
	copy(key, intentRegistryPrefix)
	copy(key[len(intentRegistryPrefix):], hash[:])
	return key
}

// IntentConsumed reports whether hash has been spent.
func (tx *Tx) IntentConsumed(hash [32]byte) (bool, error) {
	return tx.KVGet(intentRegistryKey(hash), nil)
}

// IntentRecordGet loads the consumption record for hash.
func (tx *Tx) IntentRecordGet(hash [32]byte) (*IntentRecord, bool, error) {
	var record IntentRecord
	ok, err := tx.KVGet(intentRegistryKey(hash), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// ConsumeIntent records hash as spent. A second call for the same hash fails
// with ErrIntentConsumed.
func (tx *Tx) ConsumeIntent(hash [32]byte, expiry, now uint64) error {
	consumed, err := tx.IntentConsumed(hash)
	if err != nil {
		return err
	}
	if consumed {
		return ErrIntentConsumed
	}
	return tx.KVPut(intentRegistryKey(hash), IntentRecord{Expiry: expiry, ConsumedAt: now})
}
