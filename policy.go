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

// slotPolicy tells a table how to treat a slot of type S. Implementations
// are stateless and are selected at instantiation time, so the table calls
// them without any dynamic dispatch on the storage mode.
type slotPolicy[K comparable, S any] interface {
	// key returns the key held by an occupied slot. The table uses it for
	// hashing and for equality checks while probing.
	key(s *S) *K
	// transfer moves the contents of src into dst and leaves src empty. It
	// must not copy whatever the slot refers to.
	transfer(dst, src *S)
	// same reports whether two occupied slots with equal keys refer to the
	// same entry.
	same(a, b *S) bool
}

// Slot holds a key and value inline in a Map's slot array.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// flatPolicy stores entries inline.
type flatPolicy[K comparable, V any] struct{}

func (flatPolicy[K, V]) key(s *Slot[K, V]) *K {
	return &s.key
}

func (flatPolicy[K, V]) transfer(dst, src *Slot[K, V]) {
	*dst = *src
	*src = Slot[K, V]{}
}

func (flatPolicy[K, V]) same(_, _ *Slot[K, V]) bool {
	return true
}

// nodePolicy stores a pointer to a Node in each slot. Moving a slot moves
// the pointer; the Node stays where it is.
type nodePolicy[K comparable, V any] struct{}

func (nodePolicy[K, V]) key(s **Node[K, V]) *K {
	return &(*s).key
}

func (nodePolicy[K, V]) transfer(dst, src **Node[K, V]) {
	*dst = *src
	*src = nil
}

func (nodePolicy[K, V]) same(a, b **Node[K, V]) bool {
	return *a == *b
}

// flatStore backs a Map. Entries own nothing beyond their inline bytes, so
// destroying a slot only zeroes it so the GC can reclaim what it referenced.
type flatStore[K comparable, V any] struct {
	Allocator[Slot[K, V]]
}

func (flatStore[K, V]) destroy(s *Slot[K, V]) {
	*s = Slot[K, V]{}
}

func (flatStore[K, V]) clone(dst, src *Slot[K, V]) error {
	*dst = *src
	return nil
}

func (flatStore[K, V]) adopts(slotStore[Slot[K, V]]) bool {
	return true
}
