package cluster

import (
	"encoding/json"
	"sort"
)

// ClusterFeature is the read-only view of one visible item: either a raw
// point (IsCluster false, Count 1) or a cluster. X and Y are longitude and
// latitude. ID addresses the item in drill-down queries.
type ClusterFeature struct {
	ID        int64
	X, Y      float64
	Count     uint32
	IsCluster bool
	Metrics   map[string]float32
	Metadata  map[string]json.RawMessage
}

// limitZoom clamps a requested zoom onto a built layer. MaxZoom+1 addresses
// the unclustered input layer.
func (sc *Supercluster) limitZoom(zoom int) int {
	if zoom > sc.Options.MaxZoom+1 {
		return sc.Options.MaxZoom + 1
	}
	if zoom < sc.Options.MinZoom {
		return sc.Options.MinZoom
	}
	return zoom
}

// GetClusters returns the items visible at the given zoom inside the
// bounding box. Out-of-range zooms are clamped, not rejected. A box whose
// west edge lies east of its east edge wraps the antimeridian and is split
// into two disjoint boxes, so no item is reported twice.
func (sc *Supercluster) GetClusters(bounds KDBounds, zoom int) []ClusterFeature {
	tree := sc.Trees[sc.limitZoom(zoom)]

	var idxs []int
	switch {
	case bounds.MaxX-bounds.MinX >= 360:
		idxs = rangeQuery(tree, -180, bounds.MinY, 180, bounds.MaxY)
	case bounds.MinX > bounds.MaxX:
		idxs = rangeQuery(tree, bounds.MinX, bounds.MinY, 180, bounds.MaxY)
		idxs = append(idxs, rangeQuery(tree, -180, bounds.MinY, bounds.MaxX, bounds.MaxY)...)
	default:
		idxs = rangeQuery(tree, bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)
	}
	sort.Ints(idxs)

	result := make([]ClusterFeature, len(idxs))
	for i, idx := range idxs {
		result[i] = sc.featureForLayerPoint(tree.points[idx])
	}
	return result
}

// AllClusters returns every item of the layer at the given zoom.
func (sc *Supercluster) AllClusters(zoom int) []ClusterFeature {
	tree := sc.Trees[sc.limitZoom(zoom)]
	result := make([]ClusterFeature, len(tree.points))
	for i, p := range tree.points {
		result[i] = sc.featureForLayerPoint(p)
	}
	return result
}

// rangeQuery projects a lng/lat box to mercator and queries the layer tree.
func rangeQuery(tree *kdTree, west, south, east, north float64) []int {
	minX, minY := project(west, north)
	maxX, maxY := project(east, south)
	return tree.Range(minX, minY, maxX, maxY)
}

// GetChildren returns one level of a cluster's members. Unknown ids yield
// ErrNotFound; ids of raw points yield ErrNotCluster.
func (sc *Supercluster) GetChildren(id int64) ([]ClusterFeature, error) {
	node, err := sc.lookupCluster(id)
	if err != nil {
		return nil, err
	}
	features := make([]ClusterFeature, len(node.Children))
	for i, cid := range node.Children {
		features[i] = sc.featureForID(cid)
	}
	return features, nil
}

// GetLeaves returns a page of the raw points under a cluster, expanded
// depth-first in child order so pagination is stable. A non-positive limit
// defaults to 10. Traversal stops as soon as the page is full, so the cost
// is bounded by offset+limit leaves rather than the cluster size.
func (sc *Supercluster) GetLeaves(id int64, limit, offset int) ([]Point, error) {
	node, err := sc.lookupCluster(id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	leaves := make([]Point, 0, limit)
	skipped := 0
	stack := make([]int64, len(node.Children))
	for i, cid := range node.Children {
		stack[len(node.Children)-1-i] = cid
	}

	for len(stack) > 0 && len(leaves) < limit {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if sc.Registry.IsCluster(cur) {
			child, err := sc.Registry.Lookup(cur)
			if err != nil {
				return nil, err
			}
			for i := len(child.Children) - 1; i >= 0; i-- {
				stack = append(stack, child.Children[i])
			}
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}
		leaves = append(leaves, sc.Points[cur])
	}

	return leaves, nil
}

// GetClusterExpansionZoom returns the first zoom at which the cluster
// resolves into more than one visible item. A cluster formed at zoom z
// shows its members standalone at z+1; degenerate single-cluster chains are
// followed down until a branching node.
func (sc *Supercluster) GetClusterExpansionZoom(id int64) (int, error) {
	node, err := sc.lookupCluster(id)
	if err != nil {
		return 0, err
	}
	for len(node.Children) == 1 && sc.Registry.IsCluster(node.Children[0]) {
		node, err = sc.Registry.Lookup(node.Children[0])
		if err != nil {
			return 0, err
		}
	}
	return node.Zoom + 1, nil
}

// lookupCluster resolves a cluster id, distinguishing "exists but is a raw
// point" from "not in the hierarchy at all".
func (sc *Supercluster) lookupCluster(id int64) (*ClusterNode, error) {
	if sc.Registry == nil {
		return nil, ErrNotFound
	}
	if !sc.Registry.IsCluster(id) {
		if id >= 0 && id < int64(len(sc.Points)) {
			return nil, ErrNotCluster
		}
		return nil, ErrNotFound
	}
	return sc.Registry.Lookup(id)
}

func (sc *Supercluster) featureForLayerPoint(p *layerPoint) ClusterFeature {
	lng, lat := unproject(p.X, p.Y)
	f := ClusterFeature{
		ID:    p.ID,
		X:     lng,
		Y:     lat,
		Count: p.NumPoints,
	}
	if sc.Registry.IsCluster(p.ID) {
		f.IsCluster = true
		f.Metrics = sc.Pool.Get(p.MetricIdx)
		if node, err := sc.Registry.Lookup(p.ID); err == nil {
			f.Metadata = node.Metadata
		}
		return f
	}
	point := sc.Points[p.ID]
	f.Metrics = point.Metrics
	f.Metadata = sc.memberMetadata(p.ID)
	return f
}

func (sc *Supercluster) featureForID(id int64) ClusterFeature {
	if sc.Registry.IsCluster(id) {
		node, err := sc.Registry.Lookup(id)
		if err != nil {
			return ClusterFeature{ID: id}
		}
		lng, lat := unproject(node.X, node.Y)
		return ClusterFeature{
			ID:        id,
			X:         lng,
			Y:         lat,
			Count:     node.Count,
			IsCluster: true,
			Metrics:   sc.Pool.Get(node.MetricIdx),
			Metadata:  node.Metadata,
		}
	}
	point := sc.Points[id]
	return ClusterFeature{
		ID:       id,
		X:        point.X,
		Y:        point.Y,
		Count:    1,
		Metrics:  point.Metrics,
		Metadata: sc.memberMetadata(id),
	}
}
