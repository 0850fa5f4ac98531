// Package hashtable implements a bucket-locked hash table, used by the
// address-space registry (§4.1) to map team id to address space under a
// process-wide reader/writer discipline at the bucket level.
package hashtable

import (
	"fmt"
	"sync"
)

// Table maps comparable keys to values of type V. Each bucket carries its
// own RWMutex, so independent keys almost never contend — only a hash
// collision serializes two operations.
type Table[K comparable, V any] struct {
	buckets []*bucket[K, V]
}

type bucket[K comparable, V any] struct {
	sync.RWMutex
	elems []entry[K, V]
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New allocates a Table with the given number of buckets.
func New[K comparable, V any](nbuckets int) *Table[K, V] {
	if nbuckets <= 0 {
		panic("hashtable: non-positive bucket count")
	}
	t := &Table[K, V]{buckets: make([]*bucket[K, V], nbuckets)}
	for i := range t.buckets {
		t.buckets[i] = &bucket[K, V]{}
	}
	return t
}

func (t *Table[K, V]) bucketFor(key K) *bucket[K, V] {
	h := hashKey(key)
	return t.buckets[h%uint64(len(t.buckets))]
}

// Get looks up key and reports whether it was found.
func (t *Table[K, V]) Get(key K) (V, bool) {
	b := t.bucketFor(key)
	b.RLock()
	defer b.RUnlock()
	for _, e := range b.elems {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts or replaces the value stored for key, returning the previous
// value (if any) and whether the key already existed.
func (t *Table[K, V]) Set(key K, value V) (V, bool) {
	b := t.bucketFor(key)
	b.Lock()
	defer b.Unlock()
	for i, e := range b.elems {
		if e.key == key {
			old := e.value
			b.elems[i].value = value
			return old, true
		}
	}
	b.elems = append(b.elems, entry[K, V]{key: key, value: value})
	var zero V
	return zero, false
}

// Del removes key from the table. It is a no-op if the key is absent.
func (t *Table[K, V]) Del(key K) {
	b := t.bucketFor(key)
	b.Lock()
	defer b.Unlock()
	for i, e := range b.elems {
		if e.key == key {
			b.elems = append(b.elems[:i], b.elems[i+1:]...)
			return
		}
	}
}

// Len returns the total number of entries across all buckets.
func (t *Table[K, V]) Len() int {
	n := 0
	for _, b := range t.buckets {
		b.RLock()
		n += len(b.elems)
		b.RUnlock()
	}
	return n
}

// Iter calls f for every stored key/value pair in an unspecified order,
// stopping early if f returns false. Iter takes a snapshot of each bucket
// under its read lock in turn and calls f with no lock held, so f may call
// back into the same Table; entries added or removed meanwhile may or may
// not be seen.
func (t *Table[K, V]) Iter(f func(K, V) bool) {
	for _, b := range t.buckets {
		b.RLock()
		elems := make([]entry[K, V], len(b.elems))
		copy(elems, b.elems)
		b.RUnlock()
		for _, e := range elems {
			if !f(e.key, e.value) {
				return
			}
		}
	}
}

func hashKey[K comparable](key K) uint64 {
	// fnv-1a over the value's textual form. Cheap and collision-resistant
	// enough for registry-sized tables (address spaces, not a hot-path
	// per-page lookup); §4.1 only requires amortized O(1) lookup under a
	// read lock, not a perfectly uniform hash.
	s := fmt.Sprintf("%v", key)
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
