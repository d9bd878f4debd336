package cluster

import "encoding/json"

// ClusterNode is a synthetic aggregate formed during the build. X and Y hold
// the count-weighted mercator centroid of its members. Children lists the
// ids of the items absorbed at formation, in ingestion order: ids below the
// registry seed are raw point indexes, ids at or above it are clusters.
type ClusterNode struct {
	ID        int64
	X, Y      float64
	Count     uint32
	Zoom      int
	Children  []int64
	MetricIdx uint32
	Metadata  map[string]json.RawMessage
}

// Registry maps cluster ids to their nodes. Ids are allocated sequentially
// from a seed chosen as the next power of ten above the input size, so a
// single int64 namespace addresses raw points (below the seed) and clusters
// (at or above it) without ambiguity. Populated only during the build,
// read-only afterwards.
type Registry struct {
	seed  int64
	nodes []ClusterNode
}

// idSeed returns the smallest power of ten strictly greater than n.
// For 78 points cluster ids start at 100, for 986 points at 1000.
func idSeed(n int) int64 {
	seed := int64(1)
	for seed <= int64(n) {
		seed *= 10
	}
	return seed
}

func newRegistry(seed int64) *Registry {
	return &Registry{seed: seed}
}

// Seed returns the first cluster id. Every id below it is a raw point index.
func (r *Registry) Seed() int64 {
	return r.seed
}

// Len reports the number of registered clusters.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// IsCluster reports whether id falls in the cluster id namespace.
func (r *Registry) IsCluster(id int64) bool {
	return id >= r.seed
}

// add registers a node and assigns it the next id.
func (r *Registry) add(node ClusterNode) int64 {
	node.ID = r.seed + int64(len(r.nodes))
	r.nodes = append(r.nodes, node)
	return node.ID
}

// nextID returns the id the next registered node will receive.
func (r *Registry) nextID() int64 {
	return r.seed + int64(len(r.nodes))
}

// Lookup returns the node for a cluster id. Point ids yield ErrNotCluster,
// ids past the allocated range yield ErrNotFound.
func (r *Registry) Lookup(id int64) (*ClusterNode, error) {
	if id < r.seed {
		return nil, ErrNotCluster
	}
	idx := id - r.seed
	if idx >= int64(len(r.nodes)) {
		return nil, ErrNotFound
	}
	return &r.nodes[idx], nil
}

// Children returns the immediate child ids of a cluster, one level deep.
func (r *Registry) Children(id int64) ([]int64, error) {
	node, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	return node.Children, nil
}
