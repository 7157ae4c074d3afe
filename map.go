// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package unordered

// Map is an unordered map from keys to values with Put, Get, Delete, and All
// operations. Keys and values are stored inline in the table's slot array,
// which makes Map the faster choice when callers do not need stable
// addresses for values. By default, a Map[K,V] hashes keys the same way as
// Go's builtin map[K]V, though a different hash function can be specified
// using the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	t table[K, Slot[K, V], flatPolicy[K, V]]
}

// New constructs a new Map with the specified initial capacity. If
// initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. The zero value for a Map is not usable. New
// panics if the configured allocator fails to provide the initial arrays;
// use Init to handle that error.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	if err := m.Init(initialCapacity, options...); err != nil {
		panic(err)
	}
	return m
}

// Init initializes a Map with the specified initial capacity. Init can be
// used to reuse a Map after Close.
func (m *Map[K, V]) Init(initialCapacity int, options ...option[K, V]) error {
	c := makeConfig(options)
	return m.t.init(initialCapacity, c.hash, c.equal, flatStore[K, V]{c.slots}, c.logger)
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator.
// The map has zero capacity afterwards; Close itself is idempotent.
func (m *Map[K, V]) Close() {
	m.t.close()
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. An error is only returned if the
// map needed to grow and the allocator failed.
func (m *Map[K, V]) Put(key K, value V) error {
	i, inserted, err := m.t.emplace(&key, func(s *Slot[K, V]) error {
		s.key = key
		s.value = value
		return nil
	})
	if err != nil {
		return err
	}
	if !inserted {
		m.t.slots.At(i).value = value
	}
	return nil
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.t.find(&key, m.t.hashKey(&key))
	if !ok {
		return value, false
	}
	return m.t.slots.At(i).value, true
}

// Delete deletes the entry corresponding to the specified key from the map.
// It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) {
	m.t.erase(&key)
}

// Clear deletes all entries from the map resulting in an empty map. The
// capacity of the map is retained.
func (m *Map[K, V]) Clear() {
	m.t.clear()
}

// Reserve makes room for n entries without further growth.
func (m *Map[K, V]) Reserve(n int) error {
	return m.t.reserve(n)
}

// Merge moves every entry of other whose key is not present in m into m.
// Entries whose key is already present in m stay in other.
func (m *Map[K, V]) Merge(other *Map[K, V]) error {
	return m.t.merge(&other.t)
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, range stops the iteration. The map can be mutated
// during iteration, though there is no guarantee that the mutations will be
// visible to the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.t.all(func(s *Slot[K, V]) bool {
		return yield(s.key, s.value)
	})
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.t.used
}

// Stats returns occupancy statistics for the map.
func (m *Map[K, V]) Stats() Stats {
	return m.t.stats()
}

// capacity returns the number of slots in the map.
func (m *Map[K, V]) capacity() int {
	return int(m.t.capacity)
}
