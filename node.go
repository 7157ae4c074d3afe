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

import "reflect"

// Node is the independently allocated storage for one entry of a NodeMap.
// The address of a Node, and therefore of its Value, does not change while
// the entry is in a map.
type Node[K comparable, V any] struct {
	key K
	// Value is the mapped value. It may be modified in place.
	Value V
}

// Key returns the key of the entry. Keys are immutable once inserted.
func (n *Node[K, V]) Key() K {
	return n.key
}

// NodeAllocator specifies an interface for allocating and releasing the
// nodes of a NodeMap. The default allocator uses new() and leaves reclaiming
// freed nodes to the GC.
//
// AllocNode must return a zeroed node. A node passed to FreeNode is no longer
// referenced by any map. Two NodeMaps whose allocators compare equal with ==
// can exchange nodes in Merge without copying them. Allocators of a type that
// is not comparable, such as a struct holding a slice, always copy.
type NodeAllocator[K comparable, V any] interface {
	AllocNode() (*Node[K, V], error)
	FreeNode(n *Node[K, V])
}

type defaultNodeAllocator[K comparable, V any] struct{}

func (defaultNodeAllocator[K, V]) AllocNode() (*Node[K, V], error) {
	return new(Node[K, V]), nil
}

func (defaultNodeAllocator[K, V]) FreeNode(*Node[K, V]) {
}

// indirectAllocator is the store behind a NodeMap. It composes the
// allocator of the slot array, whose elements are node pointers, with the
// allocator of the nodes themselves. Constructing a slot allocates a node
// and publishes its address into the slot; destroying a slot frees the node.
type indirectAllocator[K comparable, V any] struct {
	slots Allocator[*Node[K, V]]
	nodes NodeAllocator[K, V]
}

var _ slotStore[*Node[int, int]] = (*indirectAllocator[int, int])(nil)

func (a *indirectAllocator[K, V]) AllocSlots(n int) ([]*Node[K, V], error) {
	return a.slots.AllocSlots(n)
}

func (a *indirectAllocator[K, V]) AllocControls(n int) ([]uint8, error) {
	return a.slots.AllocControls(n)
}

func (a *indirectAllocator[K, V]) FreeSlots(v []*Node[K, V]) {
	a.slots.FreeSlots(v)
}

func (a *indirectAllocator[K, V]) FreeControls(v []uint8) {
	a.slots.FreeControls(v)
}

// construct allocates a node for key, fills in its value from makeValue and
// stores the node in *s. The node is only published once makeValue has
// returned successfully; if it fails or panics the node is returned to the
// node allocator and *s is left untouched.
func (a *indirectAllocator[K, V]) construct(s **Node[K, V], key K, makeValue func() (V, error)) error {
	return a.constructNode(s, func() (K, V, error) {
		v, err := makeValue()
		return key, v, err
	})
}

// constructNode is construct for callers that build the key as well.
func (a *indirectAllocator[K, V]) constructNode(s **Node[K, V], makeEntry func() (K, V, error)) error {
	n, err := a.nodes.AllocNode()
	if err != nil {
		return err
	}
	published := false
	defer func() {
		if !published {
			a.nodes.FreeNode(n)
		}
	}()

	key, value, err := makeEntry()
	if err != nil {
		return err
	}
	n.key = key
	n.Value = value
	*s = n
	published = true
	return nil
}

// clone constructs a new node holding a copy of the entry in *src. The two
// slots never share a node.
func (a *indirectAllocator[K, V]) clone(dst, src **Node[K, V]) error {
	n := *src
	return a.construct(dst, n.key, func() (V, error) {
		return n.Value, nil
	})
}

// destroy frees the node held by *s, if any, and empties the slot. A slot
// whose node was transferred away is already nil.
func (a *indirectAllocator[K, V]) destroy(s **Node[K, V]) {
	if n := *s; n != nil {
		*s = nil
		a.nodes.FreeNode(n)
	}
}

// adopts reports whether nodes owned by other may be handed to this
// allocator, which is the case iff both wrap equal node allocators.
func (a *indirectAllocator[K, V]) adopts(other slotStore[*Node[K, V]]) bool {
	o, ok := other.(*indirectAllocator[K, V])
	return ok && a.equal(o)
}

// equal reports whether a and o wrap the same node allocator. Allocators of
// a type that does not support == are never equal to one another.
func (a *indirectAllocator[K, V]) equal(o *indirectAllocator[K, V]) bool {
	if a == o {
		return true
	}
	ta := reflect.TypeOf(a.nodes)
	if ta != reflect.TypeOf(o.nodes) || !ta.Comparable() {
		return false
	}
	return a.nodes == o.nodes
}
