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

// PoolNodeAllocator recycles freed nodes through a bounded free list. It is
// useful for NodeMaps with heavy insert/erase churn. Like the maps it serves,
// it is not goroutine-safe; share it only between maps used by a single
// goroutine.
//
// A recycled node is zeroed when it is freed, so a *V retained past the
// erase of its entry observes the zero value and later the value of whatever
// entry reuses the node.
type PoolNodeAllocator[K comparable, V any] struct {
	free    []*Node[K, V]
	maxFree int

	numAlloc  int
	numReused int
	numFree   int
}

var _ NodeAllocator[int, int] = (*PoolNodeAllocator[int, int])(nil)

// NewPoolNodeAllocator returns a PoolNodeAllocator that retains at most
// maxFree freed nodes.
func NewPoolNodeAllocator[K comparable, V any](maxFree int) *PoolNodeAllocator[K, V] {
	return &PoolNodeAllocator[K, V]{
		maxFree: maxFree,
	}
}

func (p *PoolNodeAllocator[K, V]) AllocNode() (*Node[K, V], error) {
	p.numAlloc++
	if n := len(p.free); n > 0 {
		node := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.numReused++
		return node, nil
	}
	return new(Node[K, V]), nil
}

func (p *PoolNodeAllocator[K, V]) FreeNode(n *Node[K, V]) {
	p.numFree++
	*n = Node[K, V]{}
	if len(p.free) < p.maxFree {
		p.free = append(p.free, n)
	}
}

// PoolStats reports the activity of a PoolNodeAllocator.
type PoolStats struct {
	// Allocs is the number of AllocNode calls.
	Allocs int
	// Reused is the number of AllocNode calls served from the free list.
	Reused int
	// Frees is the number of FreeNode calls.
	Frees int
	// Pooled is the current length of the free list.
	Pooled int
}

func (p *PoolNodeAllocator[K, V]) Stats() PoolStats {
	return PoolStats{
		Allocs: p.numAlloc,
		Reused: p.numReused,
		Frees:  p.numFree,
		Pooled: len(p.free),
	}
}
