// Package trees implements the duplicate tree, inode-info tree, and
// directory tree of spec.md §3: ordered associative maps keyed by block
// address. Per spec.md §9's redesign note, the teacher's embedded
// red-black trees are replaced by a plain sorted-slice-backed ordered
// map; the contract (insert, find, delete, iterate-in-key-order) is what
// matters, not the backing structure.
package trees

import "sort"

type entry[V any] struct {
	key uint64
	val V
}

// OrderedMap is a uint64-keyed associative map that iterates in key order.
type OrderedMap[V any] struct {
	entries []entry[V]
}

// New creates an empty OrderedMap.
func New[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{}
}

func (m *OrderedMap[V]) search(key uint64) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].key >= key })
	if i < len(m.entries) && m.entries[i].key == key {
		return i, true
	}
	return i, false
}

// Find returns the value stored for key, if any.
func (m *OrderedMap[V]) Find(key uint64) (V, bool) {
	i, ok := m.search(key)
	if !ok {
		var zero V
		return zero, false
	}
	return m.entries[i].val, true
}

// Insert stores val for key, overwriting any existing entry.
func (m *OrderedMap[V]) Insert(key uint64, val V) {
	i, ok := m.search(key)
	if ok {
		m.entries[i].val = val
		return
	}
	m.entries = append(m.entries, entry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry[V]{key: key, val: val}
}

// Delete removes key, if present.
func (m *OrderedMap[V]) Delete(key uint64) {
	i, ok := m.search(key)
	if !ok {
		return
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int { return len(m.entries) }

// Range calls fn for every entry in ascending key order, stopping early
// if fn returns false.
func (m *OrderedMap[V]) Range(fn func(key uint64, val V) bool) {
	for _, e := range m.entries {
		if !fn(e.key, e.val) {
			return
		}
	}
}

// Keys returns every key in ascending order.
func (m *OrderedMap[V]) Keys() []uint64 {
	keys := make([]uint64, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}
