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
	"hash/maphash"
	"math/bits"
	"math/rand/v2"
	"unsafe"

	"golang.org/x/sys/cpu"
)

var processSeed = maphash.MakeSeed()

// seededKey is what defaultHash feeds to maphash. Hashing the table seed
// together with the key gives each table its own probe order.
type seededKey[K comparable] struct {
	seed uintptr
	key  K
}

// defaultHash hashes keys the same way Go's builtin map does, keyed by the
// per-table seed.
func defaultHash[K comparable](key *K, seed uintptr) uintptr {
	return uintptr(maphash.Comparable(processSeed, seededKey[K]{seed: seed, key: *key}))
}

func defaultEqual[K comparable](a, b *K) bool {
	return *a == *b
}

func fastrand64() uint64 {
	return rand.Uint64()
}

// load reads the group of groupSize control bytes starting at c. The
// matching routines number bytes from the least significant end, so on big
// endian machines the word is byte swapped to keep byte i of the group in
// bits [8i, 8i+8).
func (c *ctrl) load() uint64 {
	v := *(*uint64)((unsafe.Pointer)(c))
	if cpu.IsBigEndian {
		v = bits.ReverseBytes64(v)
	}
	return v
}
