package rawdb

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryDB is an in-memory Database. It is what most tests and the CLI
// exec command run against, and it shares the batch-op plumbing with
// FileDB so both backends apply batches through the same code shape.
// Keys and values are copied on both sides of the API; nothing the
// caller holds can alias the store.
type MemoryDB struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryDB creates a new in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{entries: make(map[string][]byte)}
}

// clone copies a byte slice; nil stays nil.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

func (db *MemoryDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	_, ok := db.entries[string(key)]
	db.mu.RUnlock()
	return ok, nil
}

func (db *MemoryDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	val, ok := db.entries[string(key)]
	db.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clone(val), nil
}

func (db *MemoryDB) Put(key, value []byte) error {
	db.applyOps([]batchOp{{key: clone(key), value: clone(value)}})
	return nil
}

func (db *MemoryDB) Delete(key []byte) error {
	db.applyOps([]batchOp{{key: clone(key), delete: true}})
	return nil
}

func (db *MemoryDB) Close() error { return nil }

// applyOps lands a sequence of operations under one lock acquisition;
// single writes and batches both funnel through here.
func (db *MemoryDB) applyOps(ops []batchOp) {
	db.mu.Lock()
	for _, op := range ops {
		if op.delete {
			delete(db.entries, string(op.key))
		} else {
			db.entries[string(op.key)] = op.value
		}
	}
	db.mu.Unlock()
}

// NewBatch creates a new batch writer.
func (db *MemoryDB) NewBatch() Batch {
	return &memBatch{db: db}
}

// NewIterator returns an iterator over all keys with the given prefix,
// in ascending key order, working on a snapshot taken at creation time.
func (db *MemoryDB) NewIterator(prefix []byte) Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return snapshotIterator(db.entries, prefix)
}

// Len returns the number of entries in the database.
func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

// snapshotIterator copies all prefix-matching pairs out of data in
// sorted key order. Shared by MemoryDB and FileDB, whose in-memory
// index has the same shape; the sort order fixes the digest traversal.
func snapshotIterator(data map[string][]byte, prefix []byte) Iterator {
	var keys []string
	for k := range data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	items := make([]kv, len(keys))
	for i, k := range keys {
		items[i] = kv{key: []byte(k), value: clone(data[k])}
	}
	return &memIterator{items: items, pos: -1}
}

// --- Batch ---

// batchOp is one buffered write, shared by the MemoryDB and FileDB
// batch implementations.
type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// memBatch buffers operations and hands them to applyOps on Write.
type memBatch struct {
	db   *MemoryDB
	ops  []batchOp
	size int
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
	b.size += len(key) + len(value)
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: clone(key), delete: true})
	b.size += len(key)
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Write() error {
	b.db.applyOps(b.ops)
	return nil
}

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

// --- Iterator ---

type kv struct {
	key, value []byte
}

type memIterator struct {
	items []kv
	pos   int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *memIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].key
}

func (it *memIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].value
}

func (it *memIterator) Release() {}
