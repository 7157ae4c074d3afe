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

import "github.com/prometheus/client_golang/prometheus"

// MetricsNodeAllocator wraps an upstream NodeAllocator and reports node
// allocations to prometheus. Any of the collectors may be nil.
type MetricsNodeAllocator[K comparable, V any] struct {
	upstream NodeAllocator[K, V]

	allocCounter prometheus.Counter
	freeCounter  prometheus.Counter
	inuseGauge   prometheus.Gauge
}

var _ NodeAllocator[int, int] = (*MetricsNodeAllocator[int, int])(nil)

// NewMetricsNodeAllocator returns a MetricsNodeAllocator. If upstream is nil
// nodes are allocated with new().
func NewMetricsNodeAllocator[K comparable, V any](
	upstream NodeAllocator[K, V],
	allocCounter prometheus.Counter,
	freeCounter prometheus.Counter,
	inuseGauge prometheus.Gauge,
) *MetricsNodeAllocator[K, V] {
	if upstream == nil {
		upstream = defaultNodeAllocator[K, V]{}
	}
	return &MetricsNodeAllocator[K, V]{
		upstream:     upstream,
		allocCounter: allocCounter,
		freeCounter:  freeCounter,
		inuseGauge:   inuseGauge,
	}
}

func (m *MetricsNodeAllocator[K, V]) AllocNode() (*Node[K, V], error) {
	n, err := m.upstream.AllocNode()
	if err != nil {
		return nil, err
	}
	if m.allocCounter != nil {
		m.allocCounter.Inc()
	}
	if m.inuseGauge != nil {
		m.inuseGauge.Inc()
	}
	return n, nil
}

func (m *MetricsNodeAllocator[K, V]) FreeNode(n *Node[K, V]) {
	m.upstream.FreeNode(n)
	if m.freeCounter != nil {
		m.freeCounter.Inc()
	}
	if m.inuseGauge != nil {
		m.inuseGauge.Dec()
	}
}
