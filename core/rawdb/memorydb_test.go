package rawdb

import (
	"bytes"
	"testing"
)

func TestMemoryDBPutGet(t *testing.T) {
	db := NewMemoryDB()
	if err := db.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(val, []byte("v1")) {
		t.Fatalf("Get = %q, want v1", val)
	}
}

func TestMemoryDBGetMissing(t *testing.T) {
	db := NewMemoryDB()
	if _, err := db.Get([]byte("nope")); err != ErrNotFound {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDBDelete(t *testing.T) {
	db := NewMemoryDB()
	db.Put([]byte("k"), []byte("v"))
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatal("key should be gone after Delete")
	}
	// Deleting a missing key is a no-op.
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestMemoryDBValueCopied(t *testing.T) {
	db := NewMemoryDB()
	v := []byte("mutable")
	db.Put([]byte("k"), v)
	v[0] = 'X'
	got, _ := db.Get([]byte("k"))
	if !bytes.Equal(got, []byte("mutable")) {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'Y'
	again, _ := db.Get([]byte("k"))
	if !bytes.Equal(again, []byte("mutable")) {
		t.Fatalf("returned value aliased store: %q", again)
	}
}

func TestMemoryDBBatch(t *testing.T) {
	db := NewMemoryDB()
	db.Put([]byte("gone"), []byte("x"))

	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("gone"))
	if db.Len() != 1 {
		t.Fatal("batch should not apply before Write")
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if db.Len() != 2 {
		t.Fatalf("Len = %d, want 2", db.Len())
	}
	if ok, _ := db.Has([]byte("gone")); ok {
		t.Fatal("batched delete not applied")
	}

	b.Reset()
	if b.ValueSize() != 0 {
		t.Fatalf("ValueSize after Reset = %d", b.ValueSize())
	}
}

func TestMemoryDBIteratorOrder(t *testing.T) {
	db := NewMemoryDB()
	db.Put([]byte("Sb"), []byte("3"))
	db.Put([]byte("Sa"), []byte("2"))
	db.Put([]byte("A1"), []byte("1"))
	db.Put([]byte("Sc"), []byte("4"))

	it := db.NewIterator([]byte("S"))
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	want := []string{"Sa", "Sb", "Sc"}
	if len(keys) != len(want) {
		t.Fatalf("iterated %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestMemoryDBIteratorSnapshot(t *testing.T) {
	db := NewMemoryDB()
	db.Put([]byte("k1"), []byte("v"))
	it := db.NewIterator(nil)
	db.Put([]byte("k2"), []byte("v"))
	n := 0
	for it.Next() {
		n++
	}
	if n != 1 {
		t.Fatalf("iterator saw %d keys, want snapshot of 1", n)
	}
}
