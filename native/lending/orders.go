package lending

import (
	"encoding/binary"
	"math/big"

	"intentlend/core/state"
	"intentlend/crypto"
)

const orderSequence = "lending/orders"

var (
	orderPrefix       = []byte("lending/order/")
	activeOrdersKey   = []byte("lending/orders/active")
	borrowerOrdersPre = []byte("lending/orders/borrower/")
)

func orderKey(id uint64) []byte {
	key := make([]byte, len(orderPrefix)+8)
	copy(key, orderPrefix)
	binary.BigEndian.PutUint64(key[len(orderPrefix):], id)
	return key
}

func orderIDBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func borrowerOrdersKey(borrower crypto.Address) []byte {
	return append(append([]byte(nil), borrowerOrdersPre...), borrower[:]...)
}

// OrderRegistry creates loan orders and enforces that terminal orders never
// change again.
type OrderRegistry struct{}

func NewOrderRegistry() *OrderRegistry { return &OrderRegistry{} }

// Create assigns the next order id and stores order as Active.
func (r *OrderRegistry) Create(tx *state.Tx, order *LoanOrder) (*LoanOrder, error) {
	id, err := tx.NextSequence(orderSequence)
	if err != nil {
		return nil, err
	}
	if ok, err := tx.KVGet(orderKey(id), nil); err != nil {
		return nil, err
	} else if ok {
		return nil, errOrderExists
	}
	created := order.Clone()
	created.ID = id
	created.Status = OrderActive
	created.RepaidAmount = big.NewInt(0)
	created.DebtCleared = big.NewInt(0)
	created.PenaltyCharged = big.NewInt(0)
	if err := tx.KVPut(orderKey(id), created); err != nil {
		return nil, err
	}
	if err := tx.KVAppend(activeOrdersKey, orderIDBytes(id)); err != nil {
		return nil, err
	}
	if err := tx.KVAppend(borrowerOrdersKey(created.Borrower), orderIDBytes(id)); err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// Get loads an order by id.
func (r *OrderRegistry) Get(tx *state.Tx, id uint64) (*LoanOrder, error) {
	var order LoanOrder
	ok, err := tx.KVGet(orderKey(id), &order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

// save persists a mutation of an active order. Reaching a terminal status
// drops the order from the active index.
func (r *OrderRegistry) save(tx *state.Tx, order *LoanOrder) error {
	stored, err := r.Get(tx, order.ID)
	if err != nil {
		return err
	}
	if stored.Status.Terminal() {
		return errTerminalOrderImmutable
	}
	if err := tx.KVPut(orderKey(order.ID), order); err != nil {
		return err
	}
	if order.Status.Terminal() {
		return tx.KVRemove(activeOrdersKey, orderIDBytes(order.ID))
	}
	return nil
}

// Active lists the ids of every active order in creation order.
func (r *OrderRegistry) Active(tx *state.Tx) ([]uint64, error) {
	return r.ids(tx, activeOrdersKey)
}

// ByBorrower lists every order id opened by borrower.
func (r *OrderRegistry) ByBorrower(tx *state.Tx, borrower crypto.Address) ([]uint64, error) {
	return r.ids(tx, borrowerOrdersKey(borrower))
}

func (r *OrderRegistry) ids(tx *state.Tx, key []byte) ([]uint64, error) {
	var raw [][]byte
	if err := tx.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if len(b) == 8 {
			out = append(out, binary.BigEndian.Uint64(b))
		}
	}
	return out, nil
}

// LastID returns the most recently assigned order id.
func (r *OrderRegistry) LastID(tx *state.Tx) (uint64, error) {
	return tx.Sequence(orderSequence)
}
