package viewcache

import (
	"bytes"
	"encoding/binary"
	"sort"

	"lukechampine.com/blake3"

	"intentlend/core/state"
	"intentlend/crypto"
)

const stateView = "state://viewcache"

var (
	entryPrefix   = []byte("view/entry/")
	entryIndexKey = []byte("view/index")
)

func entryKey(user, asset crypto.Address) []byte {
	key := make([]byte, 0, len(entryPrefix)+2*crypto.AddressLength)
	key = append(key, entryPrefix...)
	key = append(key, user[:]...)
	return append(key, asset[:]...)
}

func indexValue(user, asset crypto.Address) []byte {
	return append(append([]byte(nil), user[:]...), asset[:]...)
}

// Get returns the stored entry for (user, asset).
func Get(tx *state.Tx, user, asset crypto.Address) (*Entry, bool, error) {
	var entry Entry
	ok, err := tx.KVGet(entryKey(user, asset), &entry)
	if err != nil || !ok {
		return nil, false, err
	}
	return &entry, true, nil
}

// Stats returns the per-asset statistics entry.
func Stats(tx *state.Tx, asset crypto.Address) (*Entry, bool, error) {
	return Get(tx, crypto.Address{}, asset)
}

func put(tx *state.Tx, entry *Entry) error {
	if err := tx.KVPut(entryKey(entry.User, entry.Asset), entry); err != nil {
		return err
	}
	if entry.Version == 1 {
		return tx.KVAppend(entryIndexKey, indexValue(entry.User, entry.Asset))
	}
	return nil
}

// All returns every entry ordered by (user, asset).
func All(tx *state.Tx) ([]Entry, error) {
	var index [][]byte
	if err := tx.KVGetList(entryIndexKey, &index); err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return bytes.Compare(index[i], index[j]) < 0 })
	out := make([]Entry, 0, len(index))
	for _, raw := range index {
		if len(raw) != 2*crypto.AddressLength {
			continue
		}
		user := crypto.MustAddress(raw[:crypto.AddressLength])
		asset := crypto.MustAddress(raw[crypto.AddressLength:])
		entry, ok, err := Get(tx, user, asset)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *entry)
		}
	}
	return out, nil
}

// Digest summarises every entry and its version. Off-chain mirrors compare
// it against their own copy to detect drift without a full scan.
func Digest(tx *state.Tx) ([32]byte, int, error) {
	entries, err := All(tx)
	if err != nil {
		return [32]byte{}, 0, err
	}
	h := blake3.New(32, nil)
	var word [8]byte
	for _, e := range entries {
		h.Write(e.User[:])
		h.Write(e.Asset[:])
		h.Write([]byte(e.Collateral.String()))
		h.Write([]byte{0})
		h.Write([]byte(e.Debt.String()))
		binary.BigEndian.PutUint64(word[:], e.Version)
		h.Write(word[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, len(entries), nil
}
