package state

import (
	"math/big"
	"path/filepath"
	"testing"

	"omnipool/storage"
)

func TestJournalSnapshotRevert(t *testing.T) {
	j := NewJournal(storage.NewMemDB())
	key := []byte("pool/balance/x")

	if err := j.KVPut(key, big.NewInt(5)); err != nil {
		t.Fatalf("put: %v", err)
	}
	outer := j.Snapshot()
	if err := j.KVPut(key, big.NewInt(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	inner := j.Snapshot()
	if err := j.KVPut(key, big.NewInt(9)); err != nil {
		t.Fatalf("put: %v", err)
	}

	j.RevertToSnapshot(inner)
	got := new(big.Int)
	if ok, err := j.KVGet(key, got); err != nil || !ok {
		t.Fatalf("get after inner revert: ok=%v err=%v", ok, err)
	}
	if got.Int64() != 7 {
		t.Fatalf("expected 7 after inner revert, got %s", got)
	}

	j.RevertToSnapshot(outer)
	if _, err := j.KVGet(key, got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Int64() != 5 {
		t.Fatalf("expected 5 after outer revert, got %s", got)
	}

	j.RevertToSnapshot(0)
	ok, err := j.KVGet(key, got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be absent after full revert")
	}
}

func TestJournalCommitPersists(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()

	j := NewJournal(db)
	if err := j.KVPut([]byte("a"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := j.KVAppend([]byte("list"), []byte{0x01}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.KVAppend([]byte("list"), []byte{0x01}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	if err := j.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if j.Dirty() != 0 {
		t.Fatalf("expected clean journal after commit")
	}

	reopened := NewJournal(db)
	var value uint64
	if ok, err := reopened.KVGet([]byte("a"), &value); err != nil || !ok || value != 1 {
		t.Fatalf("unexpected committed value %d ok=%v err=%v", value, ok, err)
	}
	var list [][]byte
	if err := reopened.KVGetList([]byte("list"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected deduplicated list, got %d entries", len(list))
	}

	if err := reopened.KVDelete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := reopened.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if ok, err := NewJournal(db).KVGet([]byte("a"), &value); err != nil || ok {
		t.Fatalf("expected deleted key, ok=%v err=%v", ok, err)
	}
}

func TestJournalDiscard(t *testing.T) {
	db := storage.NewMemDB()
	j := NewJournal(db)
	if err := j.KVPut([]byte("k"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	j.Discard()
	var value uint64
	if ok, _ := j.KVGet([]byte("k"), &value); ok {
		t.Fatalf("discarded write still visible")
	}
	var missing []string
	if err := j.KVGetList([]byte("none"), &missing); err != nil || missing == nil || len(missing) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", missing, err)
	}
}
