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

import "github.com/cockroachdb/errors"

// NodeMap is an unordered map from keys to values whose entries live in
// separately allocated nodes. The table's slots only hold node pointers, so
// growing, rehashing, swapping or merging a NodeMap never moves an entry: a
// *V returned by Index, At, Get or an Iterator remains valid until that
// entry is erased.
//
// Operations that may allocate return an error. With the default allocators
// they never fail; with custom allocators an allocation or construction
// failure leaves the map as it was.
//
// The zero value for a NodeMap is not usable; use NewNodeMap or Init. A
// NodeMap is NOT goroutine-safe.
type NodeMap[K comparable, V any] struct {
	t     *table[K, *Node[K, V], nodePolicy[K, V]]
	alloc *indirectAllocator[K, V]
}

// NewNodeMap constructs a new NodeMap with the specified initial capacity.
// If initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. NewNodeMap panics if the configured allocator
// fails to provide the initial arrays; use Init to handle that error.
func NewNodeMap[K comparable, V any](initialCapacity int, options ...option[K, V]) *NodeMap[K, V] {
	m := &NodeMap[K, V]{}
	if err := m.Init(initialCapacity, options...); err != nil {
		panic(err)
	}
	return m
}

// Init initializes a NodeMap with the specified initial capacity. If the
// initial arrays cannot be allocated the error is returned and the map is
// usable with zero capacity. Init must not be called on a map that holds
// entries; Close it first.
func (m *NodeMap[K, V]) Init(initialCapacity int, options ...option[K, V]) error {
	c := makeConfig(options)
	m.alloc = &indirectAllocator[K, V]{
		slots: c.nodeSlots,
		nodes: c.nodes,
	}
	m.t = new(table[K, *Node[K, V], nodePolicy[K, V]])
	return m.t.init(initialCapacity, c.hash, c.equal, m.alloc, c.logger)
}

// Close destroys every entry, returning the nodes and the table arrays to
// their allocators. The map is empty with zero capacity afterwards.
func (m *NodeMap[K, V]) Close() {
	m.t.close()
}

func (m *NodeMap[K, V]) iter(i uintptr) Iterator[K, V] {
	return Iterator[K, V]{t: m.t, i: i}
}

func (m *NodeMap[K, V]) valueAt(i uintptr) *V {
	return &(*m.t.slots.At(i)).Value
}

// Insert inserts key with value if key is not present. A node is only
// allocated when the key is absent. It returns an iterator to the entry for
// key and whether the insertion took place.
func (m *NodeMap[K, V]) Insert(key K, value V) (Iterator[K, V], bool, error) {
	return m.TryEmplace(key, func() (V, error) {
		return value, nil
	})
}

// InsertOrAssign inserts key with value, or assigns value to the existing
// entry for key. Assignment happens in place; the entry's node is not
// replaced. The returned bool is true if an insertion took place and false
// if an assignment did.
func (m *NodeMap[K, V]) InsertOrAssign(key K, value V) (Iterator[K, V], bool, error) {
	it, inserted, err := m.Insert(key, value)
	if err != nil {
		return it, false, err
	}
	if !inserted {
		*m.valueAt(it.i) = value
	}
	return it, inserted, nil
}

// Emplace constructs an entry from makeEntry and inserts it if its key is
// not present. The node is built before the lookup; if the key turns out to
// be present the node is returned to the allocator and the map is not
// modified. Prefer TryEmplace when the key is known up front.
func (m *NodeMap[K, V]) Emplace(makeEntry func() (K, V, error)) (Iterator[K, V], bool, error) {
	var candidate *Node[K, V]
	if err := m.alloc.constructNode(&candidate, makeEntry); err != nil {
		return m.End(), false, err
	}
	i, inserted, err := m.t.emplaceSlot(&candidate)
	if err != nil {
		return m.End(), false, err
	}
	return m.iter(i), inserted, nil
}

// EmplaceHint is Emplace with a position hint. The hint is ignored.
func (m *NodeMap[K, V]) EmplaceHint(_ Iterator[K, V], makeEntry func() (K, V, error)) (Iterator[K, V], error) {
	it, _, err := m.Emplace(makeEntry)
	return it, err
}

// InsertHint is Insert with a position hint. The hint is ignored.
func (m *NodeMap[K, V]) InsertHint(_ Iterator[K, V], key K, value V) (Iterator[K, V], error) {
	it, _, err := m.Insert(key, value)
	return it, err
}

// InsertOrAssignHint is InsertOrAssign with a position hint. The hint is
// ignored.
func (m *NodeMap[K, V]) InsertOrAssignHint(_ Iterator[K, V], key K, value V) (Iterator[K, V], error) {
	it, _, err := m.InsertOrAssign(key, value)
	return it, err
}

// TryEmplace inserts key with the value returned by makeValue if key is not
// present. makeValue is not called when key is present. If makeValue
// returns an error or panics, no node is left behind and the map is not
// modified.
func (m *NodeMap[K, V]) TryEmplace(key K, makeValue func() (V, error)) (Iterator[K, V], bool, error) {
	i, inserted, err := m.t.emplace(&key, func(s **Node[K, V]) error {
		return m.alloc.construct(s, key, makeValue)
	})
	if err != nil {
		return m.End(), false, err
	}
	return m.iter(i), inserted, nil
}

// TryEmplaceHint is TryEmplace with a position hint. The hint is ignored.
func (m *NodeMap[K, V]) TryEmplaceHint(_ Iterator[K, V], key K, makeValue func() (V, error)) (Iterator[K, V], error) {
	it, _, err := m.TryEmplace(key, makeValue)
	return it, err
}

// Index returns a pointer to the value for key, inserting an entry with the
// zero value if key is not present.
func (m *NodeMap[K, V]) Index(key K) (*V, error) {
	i, _, err := m.t.emplace(&key, func(s **Node[K, V]) error {
		return m.alloc.construct(s, key, zeroValue[V])
	})
	if err != nil {
		return nil, err
	}
	return m.valueAt(i), nil
}

// At returns a pointer to the value for key. If key is not present it
// returns an error wrapping ErrKeyNotFound and the map is not modified.
func (m *NodeMap[K, V]) At(key K) (*V, error) {
	i, ok := m.t.find(&key, m.t.hashKey(&key))
	if !ok {
		return nil, errors.WithStack(ErrKeyNotFound)
	}
	return m.valueAt(i), nil
}

// Get returns a pointer to the value for key, or ok=false if key is not
// present.
func (m *NodeMap[K, V]) Get(key K) (value *V, ok bool) {
	i, ok := m.t.find(&key, m.t.hashKey(&key))
	if !ok {
		return nil, false
	}
	return m.valueAt(i), true
}

// Find returns an iterator to the entry for key, or End if key is not
// present.
func (m *NodeMap[K, V]) Find(key K) Iterator[K, V] {
	i, ok := m.t.find(&key, m.t.hashKey(&key))
	if !ok {
		return m.End()
	}
	return m.iter(i)
}

// Count returns the number of entries with key, which is 0 or 1.
func (m *NodeMap[K, V]) Count(key K) int {
	if m.Contains(key) {
		return 1
	}
	return 0
}

// Contains reports whether key is present.
func (m *NodeMap[K, V]) Contains(key K) bool {
	_, ok := m.t.find(&key, m.t.hashKey(&key))
	return ok
}

// EqualRange returns the range of entries with key. Keys are unique, so the
// range is either empty (first == last == End) or holds exactly one entry.
func (m *NodeMap[K, V]) EqualRange(key K) (first, last Iterator[K, V]) {
	it := m.Find(key)
	if !it.Valid() {
		return it, it
	}
	return it, it.Next()
}

// Erase erases the entry for key and returns the number of entries erased.
func (m *NodeMap[K, V]) Erase(key K) int {
	if m.t.erase(&key) {
		return 1
	}
	return 0
}

// EraseAt erases the entry it refers to and returns an iterator to the next
// entry. it must be a valid iterator of m. Iterators to other entries stay
// valid.
func (m *NodeMap[K, V]) EraseAt(it Iterator[K, V]) Iterator[K, V] {
	next := it.Next()
	m.t.eraseAt(it.i)
	return next
}

// EraseRange erases the entries in [first, last) and returns last.
func (m *NodeMap[K, V]) EraseRange(first, last Iterator[K, V]) Iterator[K, V] {
	for first != last {
		first = m.EraseAt(first)
	}
	return last
}

// Clear erases all entries. The capacity of the map is retained.
func (m *NodeMap[K, V]) Clear() {
	m.t.clear()
}

// Merge moves every entry of other whose key is not present in m into m.
// Entries whose key is already present in m stay in other. If both maps use
// equal node allocators the nodes themselves are moved, so pointers into
// other's moved entries now point into m; otherwise the entries are copied
// into nodes from m's allocator.
func (m *NodeMap[K, V]) Merge(other *NodeMap[K, V]) error {
	return m.t.merge(other.t)
}

// Swap exchanges the contents of m and other, including their hash
// functions and allocators. Nodes are not touched, and iterators keep
// referring to the same entries, now held by the other map.
func (m *NodeMap[K, V]) Swap(other *NodeMap[K, V]) {
	*m, *other = *other, *m
}

// Clone returns a copy of m with newly allocated nodes. If an allocation
// fails every node allocated for the copy is released.
func (m *NodeMap[K, V]) Clone() (*NodeMap[K, V], error) {
	c := &NodeMap[K, V]{
		t:     new(table[K, *Node[K, V], nodePolicy[K, V]]),
		alloc: m.alloc,
	}
	if err := m.t.cloneTo(c.t); err != nil {
		return nil, err
	}
	return c, nil
}

// Rehash changes the number of buckets to at least n, and enough for the
// current entries. Only the slot array is rebuilt; nodes do not move.
// Rehash(0) on an empty map releases its arrays.
func (m *NodeMap[K, V]) Rehash(n int) error {
	return m.t.rehashTo(n)
}

// Reserve makes room for n entries without further rehashing.
func (m *NodeMap[K, V]) Reserve(n int) error {
	return m.t.reserve(n)
}

// Begin returns an iterator to the first entry, or End if m is empty.
func (m *NodeMap[K, V]) Begin() Iterator[K, V] {
	return m.iter(m.t.next(0))
}

// End returns the past-the-end iterator.
func (m *NodeMap[K, V]) End() Iterator[K, V] {
	return m.iter(m.t.capacity)
}

// All calls yield sequentially for each key and value present in the map.
// If yield returns false, iteration stops. yield may insert or erase
// entries. Erased entries are not yielded afterwards, even if the table was
// rebuilt in between; there is no guarantee that inserted entries are seen.
func (m *NodeMap[K, V]) All(yield func(key K, value *V) bool) {
	m.t.all(func(s **Node[K, V]) bool {
		n := *s
		return yield(n.key, &n.Value)
	})
}

// Len returns the number of entries in the map.
func (m *NodeMap[K, V]) Len() int {
	return m.t.used
}

// Empty reports whether the map has no entries.
func (m *NodeMap[K, V]) Empty() bool {
	return m.t.used == 0
}

// BucketCount returns the number of slots in the table.
func (m *NodeMap[K, V]) BucketCount() int {
	return int(m.t.capacity)
}

// LoadFactor returns Len()/BucketCount(), or 0 for a map without buckets.
func (m *NodeMap[K, V]) LoadFactor() float32 {
	return m.t.loadFactor()
}

// MaxLoadFactor returns the load factor above which the table grows. It is
// fixed by the engine at 7/8.
func (m *NodeMap[K, V]) MaxLoadFactor() float32 {
	return maxLoadFactor
}

// SetMaxLoadFactor is accepted for interface compatibility and has no
// effect; the engine manages its own load.
func (m *NodeMap[K, V]) SetMaxLoadFactor(float32) {}

// MaxLoad returns the number of entries the map can hold before the next
// growth, tombstones included.
func (m *NodeMap[K, V]) MaxLoad() int {
	return maxGrowth(m.t.capacity)
}

// Stats returns occupancy statistics for the map.
func (m *NodeMap[K, V]) Stats() Stats {
	return m.t.stats()
}

// MaxSize returns the largest number of entries the map can hold.
func (m *NodeMap[K, V]) MaxSize() int {
	return m.t.maxSize()
}

// HashFunction returns the function the map hashes keys with. The second
// argument is the map's seed.
func (m *NodeMap[K, V]) HashFunction() func(key *K, seed uintptr) uintptr {
	return m.t.hash
}

// KeyEqual returns the function the map compares keys with.
func (m *NodeMap[K, V]) KeyEqual() func(a, b *K) bool {
	return m.t.equal
}

// NodeAllocator returns the allocator the map's nodes come from.
func (m *NodeMap[K, V]) NodeAllocator() NodeAllocator[K, V] {
	return m.alloc.nodes
}

// EraseIf erases every entry of m for which pred returns true and returns
// the number of entries erased. pred may modify the value it is given.
func EraseIf[K comparable, V any](m *NodeMap[K, V], pred func(key K, value *V) bool) int {
	return m.t.eraseIf(func(s **Node[K, V]) bool {
		n := *s
		return pred(n.key, &n.Value)
	})
}

// Equal reports whether a and b hold the same entries, regardless of
// insertion order.
func Equal[K, V comparable](a, b *NodeMap[K, V]) bool {
	return EqualFunc(a, b, func(x, y V) bool {
		return x == y
	})
}

// EqualFunc is like Equal but compares values using eq. Keys are compared
// with b's key equality.
func EqualFunc[K comparable, V any](a, b *NodeMap[K, V], eq func(x, y V) bool) bool {
	if a == b {
		return true
	}
	if a.Len() != b.Len() {
		return false
	}
	equal := true
	a.t.all(func(s **Node[K, V]) bool {
		n := *s
		v, ok := b.Get(n.key)
		if !ok || !eq(n.Value, *v) {
			equal = false
			return false
		}
		return true
	})
	return equal
}

func zeroValue[V any]() (V, error) {
	var v V
	return v, nil
}
