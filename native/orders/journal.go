package orders

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Storage abstracts the subset of key-value functionality required by the
// order journal. Per-user indexes live in append-only lists.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

var (
	orderPrefix       = []byte("fund/orders/record/")
	orderCountKey     = []byte("fund/orders/count")
	orderUserPrefix   = []byte("fund/orders/user/")
	delayedBalPrefix  = []byte("fund/orders/delayed/")
)

// Journal persists the global and per-user order lists plus the delayed
// redemption balances. Records are append-only; the only mutation is the
// explicit overwrite-by-index correction.
type Journal struct {
	store Storage
}

// NewJournal constructs a journal bound to the provided storage backend.
func NewJournal(store Storage) *Journal {
	return &Journal{store: store}
}

func orderKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderPrefix, index))
}

func userKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", orderUserPrefix, hex.EncodeToString(user[:])))
}

func delayedKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", delayedBalPrefix, hex.EncodeToString(user[:])))
}

func indexBytes(index uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, index)
	return out
}

// Count returns the number of recorded orders.
func (j *Journal) Count() (uint64, error) {
	var count uint64
	if _, err := j.store.KVGet(orderCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Append records a new order at the next global index and links it into the
// user's list. The assigned index is written back into the order.
func (j *Journal) Append(order *Order) (uint64, error) {
	if order == nil {
		return 0, fmt.Errorf("orders: order must not be nil")
	}
	count, err := j.Count()
	if err != nil {
		return 0, err
	}
	order.Index = count
	if err := j.store.KVPut(orderKey(count), toStoredOrder(order)); err != nil {
		return 0, err
	}
	if err := j.store.KVAppend(userKey(order.User), indexBytes(count)); err != nil {
		return 0, err
	}
	if err := j.store.KVPut(orderCountKey, count+1); err != nil {
		return 0, err
	}
	return count, nil
}

// Get retrieves the order at the given global index.
func (j *Journal) Get(index uint64) (*Order, error) {
	var stored storedOrder
	ok, err := j.store.KVGet(orderKey(index), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("orders: no order at index %d", index)
	}
	return fromStoredOrder(stored)
}

// Overwrite replaces the order at an existing index. This is the correction
// path; it never extends the list.
func (j *Journal) Overwrite(index uint64, order *Order) error {
	if order == nil {
		return fmt.Errorf("orders: order must not be nil")
	}
	var stored storedOrder
	ok, err := j.store.KVGet(orderKey(index), &stored)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("orders: no order at index %d", index)
	}
	order.Index = index
	return j.store.KVPut(orderKey(index), toStoredOrder(order))
}

// ListUser returns the user's orders in append order.
func (j *Journal) ListUser(user [20]byte) ([]*Order, error) {
	var indexes [][]byte
	if err := j.store.KVGetList(userKey(user), &indexes); err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(indexes))
	for _, raw := range indexes {
		if len(raw) != 8 {
			return nil, fmt.Errorf("orders: malformed user index entry")
		}
		order, err := j.Get(binary.BigEndian.Uint64(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

// DelayedBalance returns the user's outstanding deferred redemption amount in
// the internal 18-decimal scale.
func (j *Journal) DelayedBalance(user [20]byte) (*big.Int, error) {
	var stored string
	ok, err := j.store.KVGet(delayedKey(user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amountFromString(stored)
}

func (j *Journal) putDelayedBalance(user [20]byte, amount *big.Int) error {
	return j.store.KVPut(delayedKey(user), amountToString(amount))
}
