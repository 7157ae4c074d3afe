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

const maxLoadFactor = float32(maxAvgGroupLoad) / groupSize

// Stats describes the occupancy of a map's table.
type Stats struct {
	// Len is the number of entries.
	Len int
	// Capacity is the number of slots.
	Capacity int
	// Tombstones is the number of deleted slots that still take part in
	// probing. They are dropped by the next rehash.
	Tombstones int
	// GrowthLeft is the number of insertions possible before a rehash.
	GrowthLeft int
	// LoadFactor is Len/Capacity.
	LoadFactor float32
}

func (t *table[K, S, P]) loadFactor() float32 {
	if t.capacity == 0 {
		return 0
	}
	return float32(t.used) / float32(t.capacity)
}

func (t *table[K, S, P]) stats() Stats {
	return Stats{
		Len:        t.used,
		Capacity:   int(t.capacity),
		Tombstones: maxGrowth(t.capacity) - t.used - t.growthLeft,
		GrowthLeft: t.growthLeft,
		LoadFactor: t.loadFactor(),
	}
}
