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
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var errAllocFailed = errors.New("allocation failed")

// failingAllocator hands out a fixed number of slot arrays and then fails.
type failingAllocator[S any] struct {
	defaultAllocator[S]
	allowed int
}

func (a *failingAllocator[S]) AllocSlots(n int) ([]S, error) {
	if a.allowed == 0 {
		return nil, errAllocFailed
	}
	a.allowed--
	return make([]S, n), nil
}

// countingAllocator counts slot array allocations.
type countingAllocator[S any] struct {
	alloc int
	free  int
}

func (a *countingAllocator[S]) AllocSlots(n int) ([]S, error) {
	a.alloc++
	return make([]S, n), nil
}

func (a *countingAllocator[S]) AllocControls(n int) ([]uint8, error) {
	return make([]uint8, n), nil
}

func (a *countingAllocator[S]) FreeSlots(_ []S) {
	a.free++
}

func (a *countingAllocator[S]) FreeControls(_ []uint8) {
}

func TestCtrlLoad(t *testing.T) {
	// The group matching routines number control bytes from the least
	// significant end of the loaded word on every architecture.
	ctrls := []ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}
	require.EqualValues(t, uint64(0x0807060504030201), (&ctrls[0]).load())
}

func TestProbeSeq(t *testing.T) {
	genSeq := func(n int, hash, mask uintptr) []uintptr {
		seq := makeProbeSeq(hash, mask)
		vals := make([]uintptr, n)
		for i := 0; i < n; i++ {
			vals[i] = seq.offset
			seq = seq.next()
		}
		return vals
	}

	// The Abseil probeSeq test cases, expressed in groups. Our sequence
	// yields slot offsets, so 16 groups need a mask of 16*groupSize-1.
	groups := []uintptr{0, 1, 3, 6, 10, 15, 5, 12, 4, 13, 7, 2, 14, 11, 9, 8}
	expected := make([]uintptr, len(groups))
	for i, g := range groups {
		expected[i] = g * groupSize
	}
	const mask = 16*groupSize - 1
	require.Equal(t, expected, genSeq(16, 0, mask))
	require.Equal(t, expected, genSeq(16, mask+1, mask))

	// Verify that we touch all of the groups no matter what our start offset
	// within the group is.
	for i := uintptr(0); i < groupSize; i++ {
		vals := genSeq(16, i, mask)
		require.Equal(t, 16, len(vals))
		for j := range vals {
			vals[j] = ((vals[j] - i) & mask) / groupSize
		}
		sort.Slice(vals, func(i, j int) bool {
			return vals[i] < vals[j]
		})
		for j := range vals {
			require.EqualValues(t, j, vals[j])
		}
	}
}

func TestMatchH2(t *testing.T) {
	ctrls := []ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}
	for i := uintptr(1); i <= 8; i++ {
		match := (&ctrls[0]).matchH2(i)
		bit := match.next()
		require.EqualValues(t, i-1, bit)
	}
}

func TestMatchEmpty(t *testing.T) {
	testCases := []struct {
		ctrls    []ctrl
		expected []uintptr
	}{
		{[]ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}, nil},
		{[]ctrl{0x1, 0x2, 0x3, ctrlEmpty, 0x5, ctrlDeleted, 0x7, ctrlSentinel}, []uintptr{3}},
		{[]ctrl{0x1, 0x2, 0x3, ctrlEmpty, 0x5, 0x6, ctrlEmpty, 0x8}, []uintptr{3, 6}},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			match := (&c.ctrls[0]).matchEmpty()
			var results []uintptr
			for match != 0 {
				idx := match.next()
				results = append(results, idx)
				match = match.clear(idx)
			}
			require.Equal(t, c.expected, results)
		})
	}
}

func TestMatchEmptyOrDeleted(t *testing.T) {
	testCases := []struct {
		ctrls    []ctrl
		expected []uintptr
	}{
		{[]ctrl{0x1, 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0x8}, nil},
		{[]ctrl{0x1, 0x2, ctrlEmpty, ctrlDeleted, 0x5, 0x6, 0x7, ctrlSentinel}, []uintptr{2, 3}},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			match := (&c.ctrls[0]).matchEmptyOrDeleted()
			var results []uintptr
			for match != 0 {
				idx := match.next()
				results = append(results, idx)
				match = match.clear(idx)
			}
			require.Equal(t, c.expected, results)
		})
	}
}

func TestConvertNonFullToEmptyAndFullToDeleted(t *testing.T) {
	ctrls := make([]ctrl, groupSize)
	expected := make([]ctrl, groupSize)
	for i := 0; i < 100; i++ {
		for j := 0; j < groupSize; j++ {
			switch rand.IntN(4) {
			case 0: // 25% empty
				ctrls[j] = ctrlEmpty
				expected[j] = ctrlEmpty
			case 1: // 25% deleted
				ctrls[j] = ctrlDeleted
				expected[j] = ctrlEmpty
			case 2: // 25% sentinel
				ctrls[j] = ctrlSentinel
				expected[j] = ctrlEmpty
			default: // 25% full
				ctrls[j] = ctrl(rand.IntN(127))
				expected[j] = ctrlDeleted
			}
		}

		(&ctrls[0]).convertNonFullToEmptyAndFullToDeleted()
		require.EqualValues(t, expected, ctrls)
	}
}

func TestCapacityFor(t *testing.T) {
	testCases := []struct {
		n        int
		expected uintptr
	}{
		{0, 7},
		{1, 7},
		{6, 7},
		{7, 15},
		{13, 15},
		{14, 31},
		{895, 1023},
		{896, 2047},
	}
	for _, c := range testCases {
		require.EqualValues(t, c.expected, capacityFor(c.n), "n=%d", c.n)
		require.GreaterOrEqual(t, maxGrowth(capacityFor(c.n)), c.n)
	}
}

func TestBitsetString(t *testing.T) {
	var b bitset
	b |= 0x80 << (2 * 8)
	b |= 0x80 << (7 * 8)
	require.Equal(t, "00100001", b.String())
}
