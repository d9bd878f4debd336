package cluster

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsPool stores metric maps once and hands out indexes, so points and
// clusters sharing identical metrics reference a single map. Reads are safe
// for concurrent use once the hierarchy is built.
type MetricsPool struct {
	Metrics []map[string]float32
	Lookup  map[string]int
	mu      sync.RWMutex
}

func NewMetricsPool() *MetricsPool {
	return &MetricsPool{
		Metrics: make([]map[string]float32, 0),
		Lookup:  make(map[string]int),
	}
}

// metricsKey builds a canonical string form of a metrics map for
// deduplication. Keys are sorted so equal maps always produce equal keys.
func metricsKey(metrics map[string]float32) string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%.6f;", k, metrics[k])
	}
	return b.String()
}

// Add inserts metrics into the pool and returns the index. Identical maps
// share one index.
func (mp *MetricsPool) Add(metrics map[string]float32) uint32 {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := metricsKey(metrics)
	if idx, exists := mp.Lookup[key]; exists {
		return uint32(idx)
	}

	idx := len(mp.Metrics)
	var copied map[string]float32
	if len(metrics) > 0 {
		copied = make(map[string]float32, len(metrics))
		for k, v := range metrics {
			copied[k] = v
		}
	}

	mp.Metrics = append(mp.Metrics, copied)
	mp.Lookup[key] = idx

	return uint32(idx)
}

// Get retrieves metrics by index. Out-of-range indexes return nil.
func (mp *MetricsPool) Get(idx uint32) map[string]float32 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if int(idx) >= len(mp.Metrics) {
		return nil
	}
	return mp.Metrics[idx]
}

// Len reports the number of distinct metric maps stored.
func (mp *MetricsPool) Len() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.Metrics)
}
