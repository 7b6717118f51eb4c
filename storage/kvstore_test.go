package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name   string
	Amount uint64
}

func TestKVStorePutGetRoundTrip(t *testing.T) {
	store := NewKVStore(NewMemDB())

	ok, err := store.KVGet([]byte("missing"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	record := testRecord{Name: "snapshot", Amount: 42}
	require.NoError(t, store.KVPut([]byte("record/1"), record))

	var decoded testRecord
	ok, err = store.KVGet([]byte("record/1"), &decoded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record, decoded)
}

func TestKVStoreEmptyKeyRejected(t *testing.T) {
	store := NewKVStore(NewMemDB())
	_, err := store.KVGet(nil, nil)
	require.Error(t, err)
	require.Error(t, store.KVPut(nil, testRecord{}))
	require.Error(t, store.KVAppend(nil, []byte("x")))
}

func TestKVAppendDeduplicates(t *testing.T) {
	store := NewKVStore(NewMemDB())
	key := []byte("index")

	require.NoError(t, store.KVAppend(key, []byte("a")))
	require.NoError(t, store.KVAppend(key, []byte("b")))
	require.NoError(t, store.KVAppend(key, []byte("a")))

	var list [][]byte
	require.NoError(t, store.KVGetList(key, &list))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, list)
}

func TestKVGetListMissingKey(t *testing.T) {
	store := NewKVStore(NewMemDB())
	var list [][]byte
	require.NoError(t, store.KVGetList([]byte("missing"), &list))
	require.NotNil(t, list)
	require.Len(t, list, 0)
}

func TestBoltBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fund.db")
	db, err := NewBoltDB(path)
	require.NoError(t, err)
	defer db.Close()

	store := NewKVStore(db)
	require.NoError(t, store.KVPut([]byte("record/1"), testRecord{Name: "bolt", Amount: 7}))

	var decoded testRecord
	ok, err := store.KVGet([]byte("record/1"), &decoded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), decoded.Amount)
}

func TestLevelDBBackendRoundTrip(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "leveldb"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	value, ok, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	_, ok, err = db.Get([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)
}
