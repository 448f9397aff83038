package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"omnipool/storage"
)

// Journal is a write-back overlay on top of a storage.Database. Writes stay
// in memory until Commit and every write records an undo entry so nested
// snapshots can be reverted independently.
//
// A Journal is not safe for concurrent use.
type Journal struct {
	db    storage.Database
	dirty map[string][]byte
	undo  []undoEntry
}

type undoEntry struct {
	key     string
	prev    []byte
	present bool
}

// tombstone marks a key deleted within the overlay.
var tombstone = []byte{}

// NewJournal wraps the supplied database. A nil database is replaced with an
// in-memory store.
func NewJournal(db storage.Database) *Journal {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Journal{db: db, dirty: make(map[string][]byte)}
}

func kvKey(key []byte) string {
	return string(ethcrypto.Keccak256(key))
}

func (j *Journal) read(hashed string) ([]byte, error) {
	if value, ok := j.dirty[hashed]; ok {
		return value, nil
	}
	value, err := j.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (j *Journal) write(hashed string, value []byte) {
	prev, present := j.dirty[hashed]
	j.undo = append(j.undo, undoEntry{key: hashed, prev: prev, present: present})
	j.dirty[hashed] = value
}

// KVPut stores the RLP encoding of value under key.
func (j *Journal) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	j.write(kvKey(key), encoded)
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (j *Journal) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := j.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (j *Journal) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	j.write(kvKey(key), tombstone)
	return nil
}

// KVAppend appends value to the RLP byte-slice list under key. Duplicates are
// ignored so indexes stay deterministic.
func (j *Journal) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if _, err := j.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return j.KVPut(key, list)
}

// KVGetList decodes the list stored under key. Missing keys yield an empty
// slice.
func (j *Journal) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := j.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// Snapshot returns an identifier for the current revision.
func (j *Journal) Snapshot() int {
	return len(j.undo)
}

// RevertToSnapshot undoes every write recorded after the snapshot.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(j.undo) - 1; i >= id; i-- {
		entry := j.undo[i]
		if entry.present {
			j.dirty[entry.key] = entry.prev
		} else {
			delete(j.dirty, entry.key)
		}
	}
	if id < len(j.undo) {
		j.undo = j.undo[:id]
	}
}

// Dirty reports the number of keys pending commit.
func (j *Journal) Dirty() int {
	return len(j.dirty)
}

// Commit flushes all pending writes to the database in one batch and resets
// the journal.
func (j *Journal) Commit() error {
	if len(j.dirty) == 0 {
		j.undo = j.undo[:0]
		return nil
	}
	batch := new(storage.Batch)
	for key, value := range j.dirty {
		if len(value) == 0 {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := j.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	j.Discard()
	return nil
}

// Discard drops every pending write.
func (j *Journal) Discard() {
	j.dirty = make(map[string][]byte)
	j.undo = j.undo[:0]
}
