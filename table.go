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

// Package unordered provides hash maps built on a single Swiss Table probing
// engine. See https://abseil.io/about/design/swisstables and
// https://faultlore.com/blah/hashbrown-tldr/.
//
// # Storage modes
//
// The engine (table) is parameterized by the type of its slots and by a
// stateless slot policy that knows how to extract a key from a slot and how
// to transfer a slot from one location to another. Two containers are built
// on top of it:
//
//   - Map stores keys and values inline in the slot array. Growing the table
//     moves entries, so pointers into a Map are never handed out.
//   - NodeMap stores a pointer to an independently allocated Node in each
//     slot. Growing, rehashing, swapping and merging only move the pointers,
//     so a *V obtained from a NodeMap stays valid until that entry is erased.
//
// # Swiss Tables
//
// Swiss tables are hash tables that map keys to values, similar to Go's
// builtin map type. Swiss tables use open-addressing rather than chaining to
// handle collisions. A hybrid between linear and quadratic probing is used -
// linear probing within groups of small fixed size and quadratic probing at
// the group level. The key design choice of Swiss tables is the usage of a
// separate metadata array that stores 1 byte per slot in the table. 7-bits of
// this "control byte" are taken from hash(key) and the remaining bit is used
// to indicate whether the slot is empty, full, deleted, or a sentinel. The
// generic version compares 8 control bytes at a time through bit tricks (SWAR,
// SIMD Within A Register).
//
// A table's layout is N-1 slots where N is a power of 2 and N+groupSize
// control bytes. The [N:N+groupSize] control bytes mirror the first groupSize
// control bytes so that probe operations at the end of the control bytes
// array do not have to perform additional checks. The control byte for slot N
// is always a sentinel which is not available for storing an entry and is
// also not a deletion tombstone.
//
// Deletion is performed using tombstones (ctrlDeleted) with an optimization
// to mark a slot as empty if we can prove that doing so would not violate the
// probing behavior that a group of full slots causes probing to continue.
// Deleting never moves other slots, which is what keeps iterators to other
// entries valid across an erase.
//
// Neither container is goroutine-safe.
package unordered

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	groupSize       = 8
	maxAvgGroupLoad = 7

	ctrlEmpty    ctrl = 0b10000000
	ctrlDeleted  ctrl = 0b11111110
	ctrlSentinel ctrl = 0b11111111

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// hashFn computes the hash of a key. The seed is per table.
type hashFn[K comparable] func(key *K, seed uintptr) uintptr

// equalFn reports whether two keys are equal.
type equalFn[K comparable] func(a, b *K) bool

// slotStore owns the memory behind a table: the slot and control arrays, and
// whatever an individual occupied slot refers to.
type slotStore[S any] interface {
	Allocator[S]
	// destroy releases the resources owned by an occupied slot and leaves
	// the slot empty. It is a noop on a slot that was transferred away.
	destroy(s *S)
	// clone copy-constructs src into dst. If an error is returned dst must
	// not be treated as occupied.
	clone(dst, src *S) error
	// adopts reports whether slots owned by other can be transferred into
	// this store without being copied.
	adopts(other slotStore[S]) bool
}

// table is the probing engine shared by Map and NodeMap. It owns the slot
// array; what a slot owns is up to the slotStore, and how a key is read out
// of a slot is up to the policy P.
type table[K comparable, S any, P slotPolicy[K, S]] struct {
	// ctrls is capacity+groupSize in length. Ctrls[capacity] is always
	// ctrlSentinel which is used to stop probe iteration. A copy of the first
	// groupSize-1 elements of ctrls is mirrored into the remaining slots
	// which is done so that a probe sequence which picks a value near the end
	// of ctrls will have valid control bytes to look at.
	//
	// When the table is empty, ctrls points to emptyCtrls which will never
	// be modified and is used to simplify the lookup code which doesn't have
	// to check for a nil ctrls.
	ctrls unsafeSlice[ctrl]
	// slots is capacity in length.
	slots unsafeSlice[S]
	// The total number slots (always 2^N-1). The capacity is used as a mask
	// to quickly compute i%N using a bitwise & operation.
	capacity uintptr
	// The number of filled slots (i.e. the number of elements in the table).
	used int
	// The number of slots we can still fill without needing to rehash.
	//
	// This is stored separately due to tombstones: we do not include
	// tombstones in the growth capacity because we'd like to rehash when the
	// table is filled with tombstones as otherwise probe sequences might get
	// unacceptably long without triggering a rehash.
	growthLeft int

	hash   hashFn[K]
	seed   uintptr
	equal  equalFn[K]
	store  slotStore[S]
	policy P
	logger *zap.Logger
}

func (t *table[K, S, P]) init(
	initialCapacity int, hash hashFn[K], equal equalFn[K], store slotStore[S], logger *zap.Logger,
) error {
	// The ctrls for an empty table points to emptyCtrls which simplifies
	// probing. The emptyCtrls never match a probe operation, but because
	// growthLeft == 0 if we try to insert we'll immediately rehash and grow.
	*t = table[K, S, P]{
		ctrls:  emptyCtrls,
		hash:   hash,
		seed:   uintptr(fastrand64()),
		equal:  equal,
		store:  store,
		logger: logger,
	}
	if initialCapacity > 0 {
		// Size the table so that initialCapacity entries fit without a
		// rehash.
		if err := t.resize(capacityFor(initialCapacity)); err != nil {
			return err
		}
	}
	t.checkInvariants()
	return nil
}

// close destroys every entry and returns the slot and control arrays to the
// store. The table may be reused afterwards; it behaves as a freshly
// initialized table with zero capacity.
func (t *table[K, S, P]) close() {
	t.clear()
	t.release()
}

// release returns the arrays of an empty table to the store.
func (t *table[K, S, P]) release() {
	if t.capacity > 0 {
		t.store.FreeSlots(t.slots.Slice(0, t.capacity))
		t.store.FreeControls(unsafeConvertSlice[uint8](t.ctrls.Slice(0, t.capacity+groupSize)))
		if ce := t.logger.Check(zapcore.DebugLevel, "release"); ce != nil {
			ce.Write(zap.Uint64("capacity", uint64(t.capacity)))
		}
	}
	t.ctrls = emptyCtrls
	t.slots = makeUnsafeSlice([]S(nil))
	t.capacity = 0
	t.used = 0
	t.growthLeft = 0
}

func (t *table[K, S, P]) hashKey(key *K) uintptr {
	return t.hash(key, t.seed)
}

// find returns the index of the slot holding key.
func (t *table[K, S, P]) find(key *K, h uintptr) (uintptr, bool) {
	// To find the location of a key in the table, we compute hash(key). From
	// h1(hash(key)) and the capacity, we construct a probeSeq that visits every
	// group of slots in some interesting order.
	//
	// We walk through these indices. At each index, we select the entire group
	// starting with that index and extract potential candidates: occupied slots
	// with a control byte equal to h2(hash(key)). If we find an empty slot in the
	// group, we stop. Tombstones (ctrlDeleted) effectively behave like full
	// slots that never match the value we're looking for.
	//
	// The h2 bits ensure when we compare a key we are likely to have actually
	// found the object, so the number of false positive key comparisons is
	// less than 1/8 per find even at high load factors.
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		g := t.ctrls.At(seq.offset)
		match := g.matchH2(h2(h))
		for match != 0 {
			bit := match.next()
			i := seq.offsetAt(bit)
			if t.equal(key, t.policy.key(t.slots.At(i))) {
				return i, true
			}
			match = match.clear(bit)
		}
		if g.matchEmpty() != 0 {
			return 0, false
		}
	}
}

// findInsertSlot returns the index of the first empty or deleted slot in
// the probe sequence for h. The caller must have ensured growthLeft > 0.
func (t *table[K, S, P]) findInsertSlot(h uintptr) uintptr {
	seq := makeProbeSeq(h1(h), t.capacity)
	for ; ; seq = seq.next() {
		if match := t.ctrls.At(seq.offset).matchEmptyOrDeleted(); match != 0 {
			return seq.offsetAt(match.next())
		}
	}
}

// markFull records that the slot at index i now holds an entry with hash h.
func (t *table[K, S, P]) markFull(i, h uintptr) {
	if *t.ctrls.At(i) == ctrlEmpty {
		t.growthLeft--
	}
	t.setCtrl(i, ctrl(h2(h)))
	t.used++
}

// reserveSlot grows or rehashes the table if it is out of growth and returns
// a free slot index for h. The slot is not marked full.
func (t *table[K, S, P]) reserveSlot(h uintptr) (uintptr, error) {
	// Before performing the insertion we may decide the table is getting
	// overcrowded (i.e. the load factor is greater than 7/8 for big tables;
	// small tables use a max load factor of 1).
	if t.growthLeft == 0 {
		if err := t.rehash(); err != nil {
			return 0, err
		}
	}
	return t.findInsertSlot(h), nil
}

// emplace looks up key and, if it is absent, reserves a slot and calls
// construct on it. The slot is only marked full once construct succeeds, so
// a failed construction leaves the occupancy bookkeeping untouched.
func (t *table[K, S, P]) emplace(key *K, construct func(s *S) error) (uintptr, bool, error) {
	h := t.hashKey(key)
	if i, ok := t.find(key, h); ok {
		return i, false, nil
	}
	i, err := t.reserveSlot(h)
	if err != nil {
		return 0, false, err
	}
	if err := construct(t.slots.At(i)); err != nil {
		return 0, false, err
	}
	t.markFull(i, h)
	t.checkInvariants()
	return i, true, nil
}

// emplaceSlot inserts an already constructed slot. If the key is present, or
// the table fails to grow, src is destroyed. Otherwise src is transferred into
// the table and left empty.
func (t *table[K, S, P]) emplaceSlot(src *S) (uintptr, bool, error) {
	key := t.policy.key(src)
	h := t.hashKey(key)
	if i, ok := t.find(key, h); ok {
		t.store.destroy(src)
		return i, false, nil
	}
	i, err := t.reserveSlot(h)
	if err != nil {
		t.store.destroy(src)
		return 0, false, err
	}
	t.policy.transfer(t.slots.At(i), src)
	t.markFull(i, h)
	t.checkInvariants()
	return i, true, nil
}

// eraseAt destroys the entry at index i. Other slots are never moved.
func (t *table[K, S, P]) eraseAt(i uintptr) {
	t.store.destroy(t.slots.At(i))
	t.used--

	// Given an offset to delete we simply create a tombstone and destroy its
	// contents and mark the ctrl as deleted. If we can prove that the slot
	// would not appear in a probe sequence we can mark the slot as empty
	// instead. We can prove this by checking to see if the slot is part of
	// any group that could have been full (assuming we never create an empty
	// slot in a group with no empties which this heuristic guarantees we
	// never do). If the slot is always parts of groups that could never have
	// been full then find would stop at this slot since we do not probe
	// beyond groups with empties.
	if t.wasNeverFull(i) {
		t.setCtrl(i, ctrlEmpty)
		t.growthLeft++
	} else {
		t.setCtrl(i, ctrlDeleted)
	}
	t.checkInvariants()
}

// erase removes key from the table, reporting whether it was present.
func (t *table[K, S, P]) erase(key *K) bool {
	i, ok := t.find(key, t.hashKey(key))
	if !ok {
		return false
	}
	t.eraseAt(i)
	return true
}

// eraseIf erases every entry for which pred returns true and returns the
// number of entries erased.
func (t *table[K, S, P]) eraseIf(pred func(s *S) bool) int {
	var n int
	for i := uintptr(0); i < t.capacity; i++ {
		if t.ctrls.At(i).isFull() && pred(t.slots.At(i)) {
			t.eraseAt(i)
			n++
		}
	}
	return n
}

// clear destroys every entry while retaining the current capacity.
func (t *table[K, S, P]) clear() {
	if t.capacity == 0 {
		return
	}
	for i := uintptr(0); i < t.capacity; i++ {
		if t.ctrls.At(i).isFull() {
			t.store.destroy(t.slots.At(i))
		}
	}
	for i := uintptr(0); i < t.capacity+groupSize; i++ {
		*t.ctrls.At(i) = ctrlEmpty
	}
	*t.ctrls.At(t.capacity) = ctrlSentinel
	t.used = 0
	t.growthLeft = maxGrowth(t.capacity)
	t.checkInvariants()
}

// next returns the index of the first full slot at or after i, or the
// capacity if there is none.
func (t *table[K, S, P]) next(i uintptr) uintptr {
	for ; i < t.capacity; i++ {
		if t.ctrls.At(i).isFull() {
			return i
		}
	}
	return t.capacity
}

// all calls yield sequentially for each occupied slot. If yield returns
// false, iteration stops. The table can be mutated during iteration, though
// there is no guarantee that the mutations will be visible to the iteration.
func (t *table[K, S, P]) all(yield func(s *S) bool) {
	// Snapshot the capacity, controls, and slots so that iteration remains
	// valid if the table is resized during iteration.
	capacity := t.capacity
	ctrls := t.ctrls
	slots := t.slots

	for i := uintptr(0); i < capacity; i++ {
		if !ctrls.At(i).isFull() {
			continue
		}
		s := slots.At(i)
		if t.ctrls != ctrls {
			// yield rebuilt the table. The snapshot still holds the entry,
			// but it may have been erased since, so resolve it against the
			// live table.
			key := t.policy.key(s)
			j, ok := t.find(key, t.hashKey(key))
			if !ok || !t.policy.same(t.slots.At(j), s) {
				continue
			}
			s = t.slots.At(j)
		}
		if !yield(s) {
			return
		}
	}
}

// merge moves every entry of src whose key is absent from t into t. Entries
// whose key is already present are left in src. When the two stores are
// compatible the slots are transferred without touching what they point to;
// otherwise the entry is cloned into t's store and destroyed in src.
func (t *table[K, S, P]) merge(src *table[K, S, P]) error {
	if t == src {
		return nil
	}
	adopt := t.store.adopts(src.store)
	for i := uintptr(0); i < src.capacity; i++ {
		if !src.ctrls.At(i).isFull() {
			continue
		}
		s := src.slots.At(i)
		key := t.policy.key(s)
		h := t.hashKey(key)
		if _, ok := t.find(key, h); ok {
			continue
		}
		j, err := t.reserveSlot(h)
		if err != nil {
			return err
		}
		if adopt {
			t.policy.transfer(t.slots.At(j), s)
		} else if err := t.store.clone(t.slots.At(j), s); err != nil {
			return err
		}
		t.markFull(j, h)
		src.eraseAt(i)
	}
	t.checkInvariants()
	return nil
}

// cloneTo copy-constructs t into dst, which must be a zero table. If cloning
// any entry fails, the entries cloned so far are destroyed, the arrays are
// returned to the store and dst is left with zero capacity.
func (t *table[K, S, P]) cloneTo(dst *table[K, S, P]) (err error) {
	*dst = table[K, S, P]{
		ctrls:  emptyCtrls,
		hash:   t.hash,
		seed:   t.seed,
		equal:  t.equal,
		store:  t.store,
		logger: t.logger,
	}
	if t.capacity == 0 {
		return nil
	}
	slots, err := t.store.AllocSlots(int(t.capacity))
	if err != nil {
		return err
	}
	ctrls, err := t.store.AllocControls(int(t.capacity + groupSize))
	if err != nil {
		t.store.FreeSlots(slots)
		return err
	}
	dst.slots = makeUnsafeSlice(slots)
	dst.ctrls = makeUnsafeSlice(unsafeConvertSlice[ctrl](ctrls))
	dst.capacity = t.capacity
	for i := uintptr(0); i < t.capacity+groupSize; i++ {
		*dst.ctrls.At(i) = ctrlEmpty
	}
	*dst.ctrls.At(dst.capacity) = ctrlSentinel
	dst.growthLeft = maxGrowth(dst.capacity)

	defer func() {
		if err != nil {
			dst.close()
		}
	}()

	// The entries are cloned at the same index so the probe invariants of t
	// carry over, tombstones included.
	for i := uintptr(0); i < t.capacity; i++ {
		c := *t.ctrls.At(i)
		if c == ctrlDeleted {
			dst.setCtrl(i, ctrlDeleted)
			dst.growthLeft--
			continue
		}
		if !c.isFull() {
			continue
		}
		if err := t.store.clone(dst.slots.At(i), t.slots.At(i)); err != nil {
			return err
		}
		dst.setCtrl(i, c)
		dst.growthLeft--
		dst.used++
	}
	if ce := t.logger.Check(zapcore.DebugLevel, "clone"); ce != nil {
		ce.Write(zap.Uint64("capacity", uint64(t.capacity)), zap.Int("used", t.used))
	}
	dst.checkInvariants()
	return nil
}

// reserve ensures that n entries fit in the table without a rehash.
func (t *table[K, S, P]) reserve(n int) error {
	if n <= t.used+t.growthLeft {
		return nil
	}
	newCapacity := capacityFor(n)
	if newCapacity < t.capacity {
		newCapacity = t.capacity
	}
	return t.resize(newCapacity)
}

// rehashTo changes the capacity to the smallest valid capacity that is >= n
// and can hold the current entries. On an empty table rehashTo(0) releases
// the arrays.
func (t *table[K, S, P]) rehashTo(n int) error {
	if n == 0 && t.used == 0 {
		t.release()
		return nil
	}
	newCapacity := capacityFor(t.used)
	if n > 0 {
		if c := (uintptr(1) << bits.Len(uint(n))) - 1; c > newCapacity {
			newCapacity = c
		}
	}
	if newCapacity == t.capacity {
		return nil
	}
	return t.resize(newCapacity)
}

func (t *table[K, S, P]) rehash() error {
	// Rehash in place if we can recover >= 1/3 of the capacity. Note that
	// this heuristic differs from Abseil's and was experimentally determined
	// to balance performance on the PutDelete benchmark vs achieving a
	// reasonable load-factor.
	//
	// Abseil notes that in the worst case it takes ~4 Put/Delete pairs to
	// create a single tombstone. Rehashing in place is significantly faster
	// than resizing because the common case is that elements remain in their
	// current location. We know how much space we're going to reclaim because
	// every tombstone will be dropped and we're only called if we've reached
	// the threshold of capacity/8 empty slots. So the number of tombstones is
	// capacity*7/8 - used.
	recoverable := (t.capacity*maxAvgGroupLoad)/groupSize - uintptr(t.used)
	if t.capacity > groupSize && recoverable >= t.capacity/3 {
		t.rehashInPlace()
		return nil
	}
	return t.resize(2*t.capacity + 1)
}

// resize allocates arrays of newCapacity and relocates every slot into them.
// Relocation copies the slot values; for node slots this copies pointers and
// never touches the nodes. If allocation fails the table is unchanged.
func (t *table[K, S, P]) resize(newCapacity uintptr) error {
	if (1 + newCapacity) < groupSize {
		newCapacity = groupSize - 1
	}

	newSlots, err := t.store.AllocSlots(int(newCapacity))
	if err != nil {
		return err
	}
	newCtrls, err := t.store.AllocControls(int(newCapacity + groupSize))
	if err != nil {
		t.store.FreeSlots(newSlots)
		return err
	}

	oldCtrls, oldSlots, oldCapacity := t.ctrls, t.slots, t.capacity
	t.slots = makeUnsafeSlice(newSlots)
	t.ctrls = makeUnsafeSlice(unsafeConvertSlice[ctrl](newCtrls))
	for i := uintptr(0); i < newCapacity+groupSize; i++ {
		*t.ctrls.At(i) = ctrlEmpty
	}
	*t.ctrls.At(newCapacity) = ctrlSentinel
	t.capacity = newCapacity
	t.growthLeft = maxGrowth(newCapacity)

	if ce := t.logger.Check(zapcore.DebugLevel, "resize"); ce != nil {
		ce.Write(
			zap.Uint64("old-capacity", uint64(oldCapacity)),
			zap.Uint64("new-capacity", uint64(newCapacity)),
			zap.Int("used", t.used),
			zap.Int("growth-left", t.growthLeft),
		)
	}

	for i := uintptr(0); i < oldCapacity; i++ {
		if !oldCtrls.At(i).isFull() {
			continue
		}
		s := oldSlots.At(i)
		h := t.hashKey(t.policy.key(s))
		j := t.findInsertSlot(h)
		*t.slots.At(j) = *s
		t.growthLeft--
		t.setCtrl(j, ctrl(h2(h)))
	}

	if oldCapacity > 0 {
		t.store.FreeSlots(oldSlots.Slice(0, oldCapacity))
		t.store.FreeControls(unsafeConvertSlice[uint8](oldCtrls.Slice(0, oldCapacity+groupSize)))
	}

	t.checkInvariants()
	return nil
}

func (t *table[K, S, P]) rehashInPlace() {
	if ce := t.logger.Check(zapcore.DebugLevel, "rehash in place"); ce != nil {
		ce.Write(zap.Uint64("capacity", uint64(t.capacity)), zap.Int("used", t.used))
	}

	// We want to drop all of the deletes in place. We first walk over the
	// control bytes and mark every DELETED slot as EMPTY and every FULL slot
	// as DELETED. Marking the DELETED slots as EMPTY has effectively dropped
	// the tombstones, but we fouled up the probe invariant. Marking the FULL
	// slots as DELETED gives us a marker to locate the previously FULL slots.

	// Mark all DELETED slots as EMPTY and all FULL slots as DELETED.
	for i := uintptr(0); i < t.capacity; i += groupSize {
		t.ctrls.At(i).convertNonFullToEmptyAndFullToDeleted()
	}

	// Fixup the cloned control bytes and the sentinel.
	for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
		*t.ctrls.At(((i - (groupSize - 1)) & t.capacity) + (groupSize - 1)) = *t.ctrls.At(i)
	}
	*t.ctrls.At(t.capacity) = ctrlSentinel

	// Now we walk over all of the DELETED slots (a.k.a. the previously FULL
	// slots). For each slot we find the first probe group we can place the
	// element in which reestablishes the probe invariant. Note that as this
	// loop proceeds we have the invariant that there are no DELETED slots in
	// the range [0, i). We may move the element at i to the range [0, i) if
	// that is where the first group with an empty slot in its probe chain
	// resides, but we never set a slot in [0, i) to DELETED.
	for i := uintptr(0); i < t.capacity; i++ {
		if *t.ctrls.At(i) != ctrlDeleted {
			continue
		}

		s := t.slots.At(i)
		h := t.hashKey(t.policy.key(s))
		seq := makeProbeSeq(h1(h), t.capacity)
		desired := seq

		probeIndex := func(pos uintptr) uintptr {
			return ((pos - desired.offset) & t.capacity) / groupSize
		}

		var target uintptr
		for ; ; seq = seq.next() {
			g := t.ctrls.At(seq.offset)
			if match := g.matchEmptyOrDeleted(); match != 0 {
				target = seq.offsetAt(match.next())
				break
			}
		}

		if i == target || probeIndex(i) == probeIndex(target) {
			// If the target index falls within the first probe group
			// then we don't need to move the element as it already
			// falls in the best probe position.
			t.setCtrl(i, ctrl(h2(h)))
			continue
		}

		if *t.ctrls.At(target) == ctrlEmpty {
			// The target slot is empty. Transfer the element to the
			// empty slot and mark the slot at index i as empty.
			t.setCtrl(target, ctrl(h2(h)))
			*t.slots.At(target) = *s
			var zero S
			*s = zero
			t.setCtrl(i, ctrlEmpty)
			continue
		}

		if *t.ctrls.At(target) == ctrlDeleted {
			// The slot at target has an element (i.e. it was FULL).
			// We're going to swap our current element with that
			// element and then repeat processing of index i which now
			// holds the element which was at target.
			t.setCtrl(target, ctrl(h2(h)))
			o := t.slots.At(target)
			*s, *o = *o, *s
			// Repeat processing of the i'th slot which now holds a
			// new entry.
			i--
			continue
		}

		panic(errors.AssertionFailedf("ctrl at position %d (%02x) should be empty or deleted",
			target, *t.ctrls.At(target)))
	}

	t.growthLeft = maxGrowth(t.capacity) - t.used
	t.checkInvariants()
}

// setCtrl sets the control byte at index i, taking care to mirror the byte to
// the end of the control bytes slice if i<groupSize.
func (t *table[K, S, P]) setCtrl(i uintptr, v ctrl) {
	*t.ctrls.At(i) = v
	// Mirror the first groupSize control state to the end of the ctrls slice.
	// We do this unconditionally which is faster than performing a comparison
	// to do it only for the first groupSize slots. Note that the index will
	// be the identity for slots in the range [groupSize,capacity).
	*t.ctrls.At(((i - (groupSize - 1)) & t.capacity) + (groupSize - 1)) = v
}

// wasNeverFull returns true if index i was never part a full group. This
// check allows an optimization during deletion whereby a deleted slot can be
// converted to empty rather than a tombstone. See the comment in eraseAt for
// further explanation.
func (t *table[K, S, P]) wasNeverFull(i uintptr) bool {
	if t.capacity < groupSize {
		// The table fits entirely in a single group so we will never probe
		// beyond this group.
		return true
	}

	indexBefore := (i - groupSize) & t.capacity
	emptyAfter := t.ctrls.At(i).matchEmpty()
	emptyBefore := t.ctrls.At(indexBefore).matchEmpty()

	// We count how many consecutive non empties we have to the right and to
	// the left of i. If the sum is >= groupSize then there is at least one
	// probe window that might have seen a full group.
	//
	//   xx xx xx xx xx xx xx xx  xx xx xx xx xx xx xx xx
	//   ^                        ^
	//   indexBefore              i
	//
	// The matchEmpty calls transform the control bytes into either 0x80 if
	// the control byte was empty, or 0x00 if the control byte was full,
	// deleted, or the sentinel. The number of trailing zero bytes in
	// emptyAfter is the distance to the first empty byte at or after i, and
	// the number of leading zero bytes in emptyBefore is the distance to the
	// first empty byte before i.
	if emptyBefore != 0 && emptyAfter != 0 &&
		((bits.TrailingZeros64(uint64(emptyAfter))>>3)+
			(bits.LeadingZeros64(uint64(emptyBefore))>>3)) < groupSize {
		return true
	}
	return false
}

func (t *table[K, S, P]) checkInvariants() {
	if invariants {
		if t.capacity > 0 {
			// Verify the cloned control bytes are good.
			for i, n := uintptr(0), uintptr(groupSize-1); i < n; i++ {
				j := ((i - (groupSize - 1)) & t.capacity) + (groupSize - 1)
				ci := *t.ctrls.At(i)
				cj := *t.ctrls.At(j)
				if ci != cj {
					panic(errors.AssertionFailedf("invariant failed: ctrl(%d)=%02x != ctrl(%d)=%02x\n%s",
						i, ci, j, cj, t.debugString()))
				}
			}
			// Verify the sentinel is good.
			if c := *t.ctrls.At(t.capacity); c != ctrlSentinel {
				panic(errors.AssertionFailedf("invariant failed: ctrl(%d): expected sentinel, but found %02x\n%s",
					t.capacity, c, t.debugString()))
			}
		}

		// For every non-empty slot, verify we can retrieve the key using find.
		// Count the number of used and deleted slots.
		var used int
		var deleted int
		for i := uintptr(0); i < t.capacity; i++ {
			c := *t.ctrls.At(i)
			switch {
			case c == ctrlDeleted:
				deleted++
			case c == ctrlEmpty:
			case c == ctrlSentinel:
				panic(errors.AssertionFailedf("invariant failed: ctrl(%d): unexpected sentinel", i))
			default:
				key := t.policy.key(t.slots.At(i))
				if j, ok := t.find(key, t.hashKey(key)); !ok || j != i {
					h := t.hashKey(key)
					panic(errors.AssertionFailedf("invariant failed: slot(%d): %v not found [h2=%02x h1=%07x]\n%s",
						i, *key, h2(h), h1(h), t.debugString()))
				}
				used++
			}
		}

		if used != t.used {
			panic(errors.AssertionFailedf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}

		growthLeft := maxGrowth(t.capacity) - t.used - deleted
		if growthLeft != t.growthLeft {
			panic(errors.AssertionFailedf("invariant failed: found %d growthLeft, but expected %d\n%s",
				t.growthLeft, growthLeft, t.debugString()))
		}
	}
}

func (t *table[K, S, P]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  growth-left=%d\n", t.capacity, t.used, t.growthLeft)
	for i := uintptr(0); i < t.capacity+groupSize; i++ {
		switch c := *t.ctrls.At(i); c {
		case ctrlEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case ctrlDeleted:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		case ctrlSentinel:
			fmt.Fprintf(&buf, "  %4d: sentinel\n", i)
		default:
			if i < t.capacity {
				key := t.policy.key(t.slots.At(i))
				h := t.hashKey(key)
				fmt.Fprintf(&buf, "  %4d: %v [ctrl=%02x h2=%02x] \n", i, *key, c, h2(h))
			} else {
				fmt.Fprintf(&buf, "  %4d: [ctrl=%02x]\n", i, c)
			}
		}
	}
	return buf.String()
}

// maxGrowth returns the number of entries a table of the given capacity can
// hold before it must be rehashed.
func maxGrowth(capacity uintptr) int {
	if capacity == 0 {
		return 0
	}
	if capacity < groupSize {
		// If the table fits in a single group then we're able to fill all of
		// the slots except 1 (an empty slot is needed to terminate find
		// operations).
		return int(capacity - 1)
	}
	return int((capacity * maxAvgGroupLoad) / groupSize)
}

// capacityFor returns the smallest valid capacity that holds n entries
// without a rehash.
func capacityFor(n int) uintptr {
	c := uintptr(groupSize - 1)
	for maxGrowth(c) < n {
		c = 2*c + 1
	}
	return c
}

// maxSize returns the largest number of entries a table can hold, bounded
// by the largest slot and control arrays that can be addressed.
func (t *table[K, S, P]) maxSize() int {
	var s S
	limit := uintptr(math.MaxInt) / (unsafe.Sizeof(s) + 1)
	c := uintptr(1)<<(bits.Len(uint(limit+1))-1) - 1
	return int(c / groupSize * maxAvgGroupLoad)
}

type bitset uint64

func (b bitset) next() uintptr {
	return uintptr(bits.TrailingZeros64(uint64(b))) >> 3
}

func (b bitset) clear(i uintptr) bitset {
	return b &^ (bitset(0x80) << (i << 3))
}

func (b bitset) String() string {
	var buf strings.Builder
	buf.Grow(groupSize)
	for i := 0; i < groupSize; i++ {
		if (b & (bitset(0x80) << (i << 3))) != 0 {
			buf.WriteString("1")
		} else {
			buf.WriteString("0")
		}
	}
	return buf.String()
}

// Each slot in the hash table has a control byte which can have one of four
// states: empty, deleted, full and the sentinel. They have the following bit
// patterns:
//
//	   empty: 1 0 0 0 0 0 0 0
//	 deleted: 1 1 1 1 1 1 1 0
//	    full: 0 h h h h h h h  // h represents the H2 hash bits
//	sentinel: 1 1 1 1 1 1 1 1
type ctrl uint8

var emptyCtrls = func() unsafeSlice[ctrl] {
	v := make([]ctrl, groupSize)
	for i := range v {
		v[i] = ctrlEmpty
	}
	return makeUnsafeSlice(v)
}()

// isFull reports whether the control byte marks a full slot, which is the
// case iff its high bit is zero.
func (c ctrl) isFull() bool {
	return (c & ctrlEmpty) != ctrlEmpty
}

func (c *ctrl) matchH2(h uintptr) bitset {
	// NB: This generic matching routine produces false positive matches when
	// h is 2^N and the control bytes have a seq of 2^N followed by 2^N+1. For
	// example: if ctrls==0x0302 and h=02, we'll compute v as 0x0100. When we
	// subtract off 0x0101 the first 2 bytes we'll become 0xffff and both be
	// considered matches of h. The false positive matches are not a problem,
	// just a rare inefficiency. Note that they only occur if there is a real
	// match and never occur on ctrlEmpty, ctrlDeleted, or ctrlSentinel. The
	// subsequent key comparisons ensure that there is no correctness issue.
	v := c.load() ^ (bitsetLSB * uint64(h))
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns a bitset where each byte is 0x80 if that control byte
// indicates an empty slot (and 0x00 otherwise).
func (c *ctrl) matchEmpty() bitset {
	v := c.load()
	// An empty slot is              1000 0000
	// A deleted or sentinel slot is 1111 111?
	// A slot is empty iff bit 7 is set and bit 1 is not.
	return bitset((v &^ (v << 6)) & bitsetMSB)
}

// matchEmptyOrDeleted returns a bitset where each byte is 0x80 if that
// control byte indicates an empty or deleted slot (and 0x00 otherwise).
func (c *ctrl) matchEmptyOrDeleted() bitset {
	// An empty slot is  1000 0000.
	// A deleted slot is 1111 1110.
	// The sentinel is   1111 1111.
	// A slot is empty or deleted iff bit 7 is set and bit 0 is not.
	v := c.load()
	return bitset((v &^ (v << 7)) & bitsetMSB)
}

// convertNonFullToEmptyAndFullToDeleted converts deleted or sentinel control
// bytes in a group to empty control bytes, and control bytes indicating full
// slots to deleted control bytes.
func (c *ctrl) convertNonFullToEmptyAndFullToDeleted() {
	// An empty slot is     1000 0000
	// A deleted slot is    1111 1110
	// The sentinel slot is 1111 1111
	// A full slot is       0??? ????
	//
	// We select the MSB, invert, add 1 if the MSB was set and zero out the low
	// bit.
	//
	//  - if the MSB was set (i.e. slot was empty, deleted, or sentinel):
	//     v:             1000 0000
	//     ^v:            0111 1111
	//     ^v + (v >> 7): 1000 0000
	//     &^ bitsetLSB:  1000 0000  = empty slot.
	//
	// - if the MSB was not set (i.e. full slot):
	//     v:             0000 0000
	//     ^v:            1111 1111
	//     ^v + (v >> 7): 1111 1111
	//     &^ bitsetLSB:  1111 1110 = deleted slot.
	//
	// No carry crosses a byte boundary, so the byte order of the load does
	// not matter here.
	p := (*uint64)((unsafe.Pointer)(c))
	v := *p & bitsetMSB
	*p = (^v + (v >> 7)) &^ bitsetLSB
}

// probeSeq maintains the state for a probe sequence. The sequence is a
// triangular progression of the form
//
//	p(i) := groupSize * (i^2 + i)/2 + hash (mod mask+1)
//
// The use of groupSize ensures that each probe step does not overlap groups;
// the sequence effectively outputs the addresses of *groups* (although not
// necessarily aligned to any boundary). The group machinery allows us to
// check an entire group with minimal branching.
//
// Wrapping around at mask+1 is important, but not for the obvious reason. As
// described above, the first few entries of the control byte array are
// mirrored at the end of the array, which group will find and use for
// selecting candidates. However, when those candidates' slots are actually
// inspected, there are no corresponding slots for the cloned bytes, so we
// need to make sure we've treated those offsets as "wrapping around".
//
// It turns out that this probe sequence visits every group exactly once if
// the number of groups is a power of two, since (i^2+i)/2 is a bijection in
// Z/(2^m). See https://en.wikipedia.org/wiki/Quadratic_probing
type probeSeq struct {
	mask   uintptr
	offset uintptr
	index  uintptr
}

func makeProbeSeq(hash, mask uintptr) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index += groupSize
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) offsetAt(i uintptr) uintptr {
	return (s.offset + i) & s.mask
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// Extracts the H1 portion of a hash: the 57 upper bits.
func h1(h uintptr) uintptr {
	return h >> 7
}

// Extracts the H2 portion of a hash: the 7 bits not used for h1.
//
// These are used as an occupied control byte.
func h2(h uintptr) uintptr {
	return h & 0x7f
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}
