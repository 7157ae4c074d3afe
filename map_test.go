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

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns the elements as a map[K]V. Useful for testing.
func (m *Map[K, V]) toBuiltinMap() map[K]V {
	r := make(map[K]V)
	m.All(func(k K, v V) bool {
		r[k] = v
		return true
	})
	return r
}

// randElement returns an arbitrary element of the map. The elements are not
// selected uniformly randomly.
func (m *Map[K, V]) randElement() (key K, value V, ok bool) {
	// Rely on the per-table seed to give us a varying element.
	m.All(func(k K, v V) bool {
		key, value = k, v
		ok = true
		return false
	})
	return
}

func constantHash(h uintptr) func(key *int, seed uintptr) uintptr {
	return func(key *int, seed uintptr) uintptr {
		return h
	}
}

func TestInitialCapacity(t *testing.T) {
	testCases := []struct {
		initialCapacity  int
		expectedCapacity int
	}{
		{0, 0},
		{1, 7},
		{6, 7},
		{7, 15},
		{8, 15},
		{895, 1023},
		{896, 2047},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			m := New[int, int](c.initialCapacity)
			require.EqualValues(t, c.expectedCapacity, m.capacity())
			require.GreaterOrEqual(t, m.Stats().GrowthLeft, c.initialCapacity)
		})
	}
}

func TestBasic(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		const count = 100

		e := make(map[int]int)
		require.EqualValues(t, 0, m.Len())
		require.EqualValues(t, 0, m.t.growthLeft)

		// Non-existent.
		for i := 0; i < count; i++ {
			_, ok := m.Get(i)
			require.False(t, ok)
		}

		// Insert.
		for i := 0; i < count; i++ {
			require.NoError(t, m.Put(i, i+count))
			e[i] = i + count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+count, v)
			require.EqualValues(t, i+1, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Update.
		for i := 0; i < count; i++ {
			require.NoError(t, m.Put(i, i+2*count))
			e[i] = i + 2*count
			v, ok := m.Get(i)
			require.True(t, ok)
			require.EqualValues(t, i+2*count, v)
			require.EqualValues(t, count, m.Len())
			require.Equal(t, e, m.toBuiltinMap())
		}

		// Delete.
		for i := 0; i < count; i++ {
			m.Delete(i)
			delete(e, i)
			require.EqualValues(t, count-i-1, m.Len())
			_, ok := m.Get(i)
			require.False(t, ok)
			require.Equal(t, e, m.toBuiltinMap())
		}
	}

	t.Run("normal", func(t *testing.T) {
		test(t, New[int, int](0))
	})

	t.Run("degenerate", func(t *testing.T) {
		testDegenerate := func(t *testing.T, h uintptr) {
			test(t, New[int, int](0, WithHash[int, int](constantHash(h))))
		}

		for _, v := range []uintptr{0, ^uintptr(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
		for i := 0; i < 10; i++ {
			v := uintptr(rand.Uint64())
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				testDegenerate(t, v)
			})
		}
	})
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int, int]) {
		e := make(map[int]int)
		for i := 0; i < 10000; i++ {
			switch r := rand.Float64(); {
			case r < 0.5: // 50% inserts
				k, v := rand.Int(), rand.Int()
				require.NoError(t, m.Put(k, v))
				e[k] = v
			case r < 0.65: // 15% updates
				if k, _, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					v := rand.Int()
					require.NoError(t, m.Put(k, v))
					e[k] = v
				}
			case r < 0.80: // 15% deletes
				if k, _, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					m.Delete(k)
					delete(e, k)
				}
			case r < 0.95: // 15% lookups
				if k, v, ok := m.randElement(); !ok {
					require.EqualValues(t, 0, m.Len(), e)
				} else {
					require.EqualValues(t, e[k], v)
				}
			default: // 5% rehash in place and iterate
				if m.t.capacity > 0 {
					m.t.rehashInPlace()
				}
				require.Equal(t, e, m.toBuiltinMap())
			}
			require.EqualValues(t, len(e), m.Len())
		}
	}

	t.Run("normal", func(t *testing.T) {
		test(t, New[int, int](0))
	})

	t.Run("degenerate", func(t *testing.T) {
		for _, v := range []uintptr{0, ^uintptr(0)} {
			t.Run(fmt.Sprintf("%016x", v), func(t *testing.T) {
				test(t, New[int, int](0, WithHash[int, int](constantHash(v))))
			})
		}
	})
}

func TestIterateMutate(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put(i, i))
	}
	e := m.toBuiltinMap()
	require.EqualValues(t, 100, m.Len())
	require.EqualValues(t, 100, len(e))

	// Iterate over the map, resizing it periodically. We should see all of
	// the elements that were originally in the map because All takes a
	// snapshot of the ctrls and slots before iterating.
	vals := make(map[int]int)
	m.All(func(k, v int) bool {
		if (k % 10) == 0 {
			require.NoError(t, m.t.resize(2*m.t.capacity+1))
		}
		vals[k] = v
		return true
	})
	require.EqualValues(t, e, vals)
	require.Equal(t, e, m.toBuiltinMap())
}

func TestIterateResizeDelete(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put(i, i))
	}

	// Entries deleted after the table was rebuilt are not yielded, and
	// entries updated after it are yielded with their new value.
	vals := make(map[int]int)
	first := true
	m.All(func(k, v int) bool {
		if first {
			first = false
			require.NoError(t, m.t.resize(2*m.t.capacity+1))
			for j := 0; j < 100; j++ {
				switch {
				case j == k:
				case j%2 == 0:
					m.Delete(j)
				default:
					require.NoError(t, m.Put(j, -j))
				}
			}
		}
		vals[k] = v
		return true
	})
	require.Equal(t, m.toBuiltinMap(), vals)
}

func TestClear(t *testing.T) {
	m := New[int, int](0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, m.Put(i, i))
	}

	capacity := m.capacity()
	m.Clear()
	require.EqualValues(t, 0, m.Len())
	require.EqualValues(t, capacity, m.capacity())
	require.EqualValues(t, maxGrowth(uintptr(capacity)), m.Stats().GrowthLeft)

	m.All(func(k, v int) bool {
		require.Fail(t, "should not iterate")
		return true
	})
}

func TestTombstones(t *testing.T) {
	m := New[int, int](0, WithHash[int, int](constantHash(0)))
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put(i, i))
	}
	// Every probe sequence starts at the same group, so deleting from the
	// front of the table must leave tombstones behind.
	for i := 0; i < 50; i++ {
		m.Delete(i)
	}
	s := m.Stats()
	require.EqualValues(t, 50, s.Len)
	require.Greater(t, s.Tombstones, 0)
	require.EqualValues(t, maxGrowth(uintptr(s.Capacity))-s.Len-s.Tombstones, s.GrowthLeft)

	m.t.rehashInPlace()
	s = m.Stats()
	require.EqualValues(t, 0, s.Tombstones)
	for i := 50; i < 100; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}
}

func TestReserve(t *testing.T) {
	a := &countingAllocator[Slot[int, int]]{}
	m := New[int, int](0, WithAllocator[int, int](a))
	require.NoError(t, m.Reserve(1000))
	require.EqualValues(t, 1, a.alloc)
	for i := 0; i < 1000; i++ {
		require.NoError(t, m.Put(i, i))
	}
	require.EqualValues(t, 1, a.alloc)

	// Reserving less than the current capacity is a noop.
	require.NoError(t, m.Reserve(10))
	require.EqualValues(t, 1, a.alloc)
}

func TestMapMerge(t *testing.T) {
	a := New[int, string](0)
	b := New[int, string](0)
	require.NoError(t, a.Put(1, "a"))
	require.NoError(t, a.Put(2, "b"))
	require.NoError(t, b.Put(2, "x"))
	require.NoError(t, b.Put(3, "c"))

	require.NoError(t, a.Merge(b))
	require.Equal(t, map[int]string{1: "a", 2: "b", 3: "c"}, a.toBuiltinMap())
	require.Equal(t, map[int]string{2: "x"}, b.toBuiltinMap())

	// Merging a map into itself is a noop.
	require.NoError(t, a.Merge(a))
	require.EqualValues(t, 3, a.Len())
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator[Slot[int, int]]{}
	m := New[int, int](0, WithAllocator[int, int](a))

	for i := 0; i < 100; i++ {
		require.NoError(t, m.Put(i, i))
	}

	// 7 -> 15 -> 31 -> 63 -> 127
	const expected = 5
	require.EqualValues(t, expected, a.alloc)
	require.EqualValues(t, expected-1, a.free)

	m.Close()

	require.EqualValues(t, expected, a.free)
	require.EqualValues(t, 0, m.Len())
	require.EqualValues(t, 0, m.capacity())
}

func TestAllocatorFailure(t *testing.T) {
	a := &failingAllocator[Slot[int, int]]{allowed: 1}
	m := New[int, int](0, WithAllocator[int, int](a))

	// The first allocation provides 7 slots, 6 of which may be filled.
	for i := 0; i < 6; i++ {
		require.NoError(t, m.Put(i, i))
	}
	err := m.Put(6, 6)
	require.ErrorIs(t, err, errAllocFailed)

	// The map is unchanged by the failed insertion.
	require.EqualValues(t, 6, m.Len())
	require.EqualValues(t, 7, m.capacity())
	_, ok := m.Get(6)
	require.False(t, ok)
	for i := 0; i < 6; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.EqualValues(t, i, v)
	}

	// Overwriting an existing key does not need to grow.
	require.NoError(t, m.Put(0, 100))
	v, _ := m.Get(0)
	require.EqualValues(t, 100, v)

	require.Error(t, New[int, int](0, WithAllocator[int, int](a)).Reserve(1))
	var n Map[int, int]
	require.ErrorIs(t, n.Init(1, WithAllocator[int, int](a)), errAllocFailed)
	require.Panics(t, func() {
		New[int, int](1, WithAllocator[int, int](a))
	})
}
