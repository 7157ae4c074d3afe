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

import "go.uber.org/zap"

// config collects the options for a Map or a NodeMap. Options that do not
// apply to the container being built are ignored.
type config[K comparable, V any] struct {
	hash      hashFn[K]
	equal     equalFn[K]
	logger    *zap.Logger
	slots     Allocator[Slot[K, V]]
	nodeSlots Allocator[*Node[K, V]]
	nodes     NodeAllocator[K, V]
}

func makeConfig[K comparable, V any](options []option[K, V]) config[K, V] {
	c := config[K, V]{
		hash:      defaultHash[K],
		equal:     defaultEqual[K],
		logger:    zap.NewNop(),
		slots:     defaultAllocator[Slot[K, V]]{},
		nodeSlots: defaultAllocator[*Node[K, V]]{},
		nodes:     defaultNodeAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}

// option provide an interface to do work on a map's configuration while it
// is being created.
type option[K comparable, V any] interface {
	apply(c *config[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key *K, seed uintptr) uintptr
}

func (op hashOption[K, V]) apply(c *config[K, V]) {
	c.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a map. Keys
// that are equal according to the map's equality function must hash to the
// same value.
func WithHash[K comparable, V any](hash func(key *K, seed uintptr) uintptr) option[K, V] {
	return hashOption[K, V]{hash}
}

type equalOption[K comparable, V any] struct {
	equal func(a, b *K) bool
}

func (op equalOption[K, V]) apply(c *config[K, V]) {
	c.equal = op.equal
}

// WithEqual is an option to specify the key equality function to use for a
// map. It is normally paired with WithHash. The default is ==.
func WithEqual[K comparable, V any](equal func(a, b *K) bool) option[K, V] {
	return equalOption[K, V]{equal}
}

type loggerOption[K comparable, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(c *config[K, V]) {
	if op.logger != nil {
		c.logger = op.logger
	}
}

// WithLogger is an option to specify a logger that receives debug events for
// structural changes of the table (resizes, in-place rehashes, releases).
func WithLogger[K comparable, V any](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

// Allocator specifies an interface for allocating and releasing the slot
// and control arrays of a table. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots and
// controls be freed then Close must be called in order to ensure FreeSlots
// and FreeControls are called.
//
// An error returned by AllocSlots or AllocControls is returned unchanged by
// the operation that needed the memory, and that operation leaves the map as
// it was.
type Allocator[S any] interface {
	// AllocSlots should return a slice equivalent to make([]S, n).
	AllocSlots(n int) ([]S, error)

	// AllocControls should return a slice equivalent to make([]uint8, n).
	AllocControls(n int) ([]uint8, error)

	// FreeSlots receives a slice previously returned by AllocSlots once the
	// table no longer references it.
	FreeSlots(v []S)

	// FreeControls receives a slice previously returned by AllocControls
	// once the table no longer references it.
	FreeControls(v []uint8)
}

type defaultAllocator[S any] struct{}

func (defaultAllocator[S]) AllocSlots(n int) ([]S, error) {
	return make([]S, n), nil
}

func (defaultAllocator[S]) AllocControls(n int) ([]uint8, error) {
	return make([]uint8, n), nil
}

func (defaultAllocator[S]) FreeSlots(v []S) {
}

func (defaultAllocator[S]) FreeControls(v []uint8) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[Slot[K, V]]
}

func (op allocatorOption[K, V]) apply(c *config[K, V]) {
	c.slots = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for the slot
// array of a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[Slot[K, V]]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type slotAllocatorOption[K comparable, V any] struct {
	allocator Allocator[*Node[K, V]]
}

func (op slotAllocatorOption[K, V]) apply(c *config[K, V]) {
	c.nodeSlots = op.allocator
}

// WithSlotAllocator is an option to specify the Allocator to use for the
// slot array of a NodeMap[K,V]. The slots of a NodeMap hold node pointers;
// the nodes themselves come from the NodeAllocator.
func WithSlotAllocator[K comparable, V any](allocator Allocator[*Node[K, V]]) option[K, V] {
	return slotAllocatorOption[K, V]{allocator}
}

type nodeAllocatorOption[K comparable, V any] struct {
	allocator NodeAllocator[K, V]
}

func (op nodeAllocatorOption[K, V]) apply(c *config[K, V]) {
	c.nodes = op.allocator
}

// WithNodeAllocator is an option to specify the NodeAllocator a NodeMap[K,V]
// uses for its nodes.
func WithNodeAllocator[K comparable, V any](allocator NodeAllocator[K, V]) option[K, V] {
	return nodeAllocatorOption[K, V]{allocator}
}
