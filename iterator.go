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

// Iterator refers to an entry of a NodeMap, or to the past-the-end position.
// The table underneath iterates over slots holding node pointers; an
// Iterator dereferences the slot once more to reach the entry.
//
// Iterators are comparable with ==. Erasing an entry invalidates only the
// iterators referring to that entry. Any insertion, Rehash or Reserve may
// rebuild the slot array and invalidates all iterators, though pointers to
// values stay valid.
type Iterator[K comparable, V any] struct {
	t *table[K, *Node[K, V], nodePolicy[K, V]]
	i uintptr
}

// Valid reports whether the iterator refers to an entry, i.e. it is not the
// past-the-end iterator.
func (it Iterator[K, V]) Valid() bool {
	return it.t != nil && it.i < it.t.capacity
}

// Node returns the node of the entry. It panics if the iterator is not
// Valid.
func (it Iterator[K, V]) Node() *Node[K, V] {
	if !it.Valid() {
		panic(errors.AssertionFailedf("dereferencing past-the-end iterator"))
	}
	return *it.t.slots.At(it.i)
}

// Key returns the key of the entry.
func (it Iterator[K, V]) Key() K {
	return it.Node().key
}

// Value returns a pointer to the value of the entry.
func (it Iterator[K, V]) Value() *V {
	return &it.Node().Value
}

// Next returns an iterator to the following entry, or the past-the-end
// iterator.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	return Iterator[K, V]{t: it.t, i: it.t.next(it.i + 1)}
}
