package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// infinityZoom marks an item that has not been absorbed into any cluster
// yet. It only needs to exceed the highest supported zoom (21).
const infinityZoom = 100

// layerPoint is one item of a zoom layer: either a raw point or a cluster,
// addressed by id against the registry seed. The zoom field records the
// lowest zoom at which the item is still shown standalone; during a build
// pass it doubles as the claim marker for that pass, since passes run from
// high zoom to low and an item claimed at zoom z is never standalone below z.
type layerPoint struct {
	X, Y      float64 // mercator unit square
	ID        int64
	NumPoints uint32
	MetricIdx uint32
	zoom      int32
	parent    int64 // cluster that absorbed this item, -1 while standalone
}

// Supercluster precomputes a hierarchy of clusters, one layer per integer
// zoom between MinZoom and MaxZoom, over a fixed set of points. Once Load
// returns, the structure is immutable and safe for concurrent queries; any
// change to the input requires building a new Supercluster.
type Supercluster struct {
	Options  Options
	Points   []Point // valid input points in ingestion order
	Trees    []*kdTree
	Registry *Registry
	Pool     *MetricsPool

	skipped int
}

// NewSupercluster creates a clustering instance, filling unset options with
// defaults. Invalid explicit values are reported by Load.
func NewSupercluster(options Options) *Supercluster {
	return &Supercluster{Options: options.withDefaults()}
}

// Skipped reports how many malformed input points were dropped during Load.
func (sc *Supercluster) Skipped() int {
	return sc.skipped
}

// Load builds the full hierarchy from the given points. Layers are built
// from MaxZoom down to MinZoom; each layer is indexed by its own kd-tree
// before being clustered into the next. The build is deterministic: the
// same points in the same order with the same options produce an identical
// hierarchy.
//
// Points with non-finite coordinates are skipped and counted unless
// Options.Strict is set, in which case Load fails on the first one.
func (sc *Supercluster) Load(points []Point) error {
	if err := sc.Options.validate(); err != nil {
		return err
	}

	sc.Pool = NewMetricsPool()
	working := make([]*layerPoint, 0, len(points))
	valid := make([]Point, 0, len(points))

	for i, p := range points {
		if !finiteCoords(p) {
			if sc.Options.Strict {
				return fmt.Errorf("%w: input row %d (id %d)", ErrMalformedPoint, i, p.ID)
			}
			sc.skipped++
			continue
		}
		x, y := project(p.X, p.Y)
		working = append(working, &layerPoint{
			X:         x,
			Y:         y,
			ID:        int64(len(valid)),
			NumPoints: 1,
			MetricIdx: sc.Pool.Add(p.Metrics),
			zoom:      infinityZoom,
			parent:    -1,
		})
		valid = append(valid, p)
	}

	sc.Points = valid
	sc.Registry = newRegistry(idSeed(len(valid)))
	sc.Trees = make([]*kdTree, sc.Options.MaxZoom+2)

	start := time.Now()
	if sc.Options.Log {
		log.Info("building hierarchy", "points", len(valid), "skipped", sc.skipped,
			"minZoom", sc.Options.MinZoom, "maxZoom", sc.Options.MaxZoom)
	}

	for z := sc.Options.MaxZoom; z >= sc.Options.MinZoom; z-- {
		sc.Trees[z+1] = newKDTree(working, sc.Options.NodeSize)
		working = sc.clusterize(working, z, sc.Trees[z+1])
		if sc.Options.Log {
			log.Debug("layer built", "zoom", z, "items", len(working))
		}
	}
	sc.Trees[sc.Options.MinZoom] = newKDTree(working, sc.Options.NodeSize)

	if sc.Options.Log {
		log.Info("hierarchy built", "clusters", sc.Registry.Len(), "elapsed", time.Since(start))
	}

	return nil
}

// radiusAt returns the clustering radius for a zoom level in mercator
// units: the configured pixel radius divided by the world size in pixels at
// that zoom (Extent * 2^zoom). Web-Mercator scale doubles per zoom level,
// so the radius halves with every zoom step.
func (sc *Supercluster) radiusAt(zoom int) float64 {
	return sc.Options.Radius / (float64(sc.Options.Extent) * math.Exp2(float64(zoom)))
}

// clusterize runs one build pass: it walks the layer in ingestion order and
// greedily merges each unclaimed item with its unclaimed neighbors within
// the zoom radius, provided the merged raw point count reaches MinPoints.
// Items that stay unclaimed are carried into the next layer unchanged.
func (sc *Supercluster) clusterize(points []*layerPoint, zoom int, tree *kdTree) []*layerPoint {
	r := sc.radiusAt(zoom)
	next := make([]*layerPoint, 0, len(points))

	for _, p := range points {
		// Claimed earlier in this pass.
		if p.zoom <= int32(zoom) {
			continue
		}
		p.zoom = int32(zoom)

		neighborIdxs := tree.Within(p.X, p.Y, r)
		// Tree order is query-dependent; layer positions are not. Sorting
		// keeps membership, children and centroid accumulation in
		// ingestion order.
		sort.Ints(neighborIdxs)

		numPoints := p.NumPoints
		var members []*layerPoint
		for _, ni := range neighborIdxs {
			b := tree.points[ni]
			// Skips p itself and anything already claimed this pass.
			if b.zoom > int32(zoom) {
				members = append(members, b)
				numPoints += b.NumPoints
			}
		}

		if len(members) == 0 || numPoints < uint32(sc.Options.MinPoints) {
			next = append(next, p)
			continue
		}

		id := sc.Registry.nextID()

		wx := p.X * float64(p.NumPoints)
		wy := p.Y * float64(p.NumPoints)
		children := make([]int64, 0, len(members)+1)
		children = append(children, p.ID)
		p.parent = id

		for _, b := range members {
			b.zoom = int32(zoom)
			b.parent = id
			wx += b.X * float64(b.NumPoints)
			wy += b.Y * float64(b.NumPoints)
			children = append(children, b.ID)
		}

		cx := wx / float64(numPoints)
		cy := wy / float64(numPoints)
		metricIdx := sc.combineMetrics(p, members)

		sc.Registry.add(ClusterNode{
			X:         cx,
			Y:         cy,
			Count:     numPoints,
			Zoom:      zoom,
			Children:  children,
			MetricIdx: metricIdx,
			Metadata:  sc.commonMetadata(children),
		})

		next = append(next, &layerPoint{
			X:         cx,
			Y:         cy,
			ID:        id,
			NumPoints: numPoints,
			MetricIdx: metricIdx,
			zoom:      infinityZoom,
			parent:    -1,
		})
	}

	return next
}

// combineMetrics folds member metrics through the configured combiner. With
// no combiner clusters carry only their count.
func (sc *Supercluster) combineMetrics(p *layerPoint, members []*layerPoint) uint32 {
	if sc.Options.Combine == nil {
		return sc.Pool.Add(nil)
	}
	acc := make(map[string]float32)
	sc.Options.Combine(acc, sc.Pool.Get(p.MetricIdx), p.NumPoints)
	for _, b := range members {
		sc.Options.Combine(acc, sc.Pool.Get(b.MetricIdx), b.NumPoints)
	}
	return sc.Pool.Add(acc)
}

// commonMetadata keeps only the metadata entries every member agrees on,
// compared in canonical JSON form. Members without metadata veto everything.
func (sc *Supercluster) commonMetadata(children []int64) map[string]json.RawMessage {
	var common map[string]json.RawMessage
	for i, id := range children {
		member := sc.memberMetadata(id)
		if i == 0 {
			common = make(map[string]json.RawMessage, len(member))
			for k, v := range member {
				common[k] = v
			}
			continue
		}
		for k, v := range common {
			mv, ok := member[k]
			if !ok || string(mv) != string(v) {
				delete(common, k)
			}
		}
		if len(common) == 0 {
			break
		}
	}
	if len(common) == 0 {
		return nil
	}
	return common
}

func (sc *Supercluster) memberMetadata(id int64) map[string]json.RawMessage {
	if sc.Registry.IsCluster(id) {
		node, err := sc.Registry.Lookup(id)
		if err != nil {
			return nil
		}
		return node.Metadata
	}
	raw := sc.Points[id].Metadata
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = data
	}
	return out
}
