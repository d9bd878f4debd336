// Package cluster precomputes a multi-resolution hierarchy of geospatial
// point clusters for map rendering.
//
// Points are projected to spherical mercator and greedily merged layer by
// layer, from the maximum configured zoom down to the minimum: at each zoom
// an item absorbs its unclaimed neighbors within the zoom's pixel radius
// whenever the merged point count reaches MinPoints. Every layer carries its
// own static kd-tree, so viewport queries never cluster on the fly.
//
// Typical usage:
//
//	sc := cluster.NewSupercluster(cluster.Options{
//		MinZoom:   0,
//		MaxZoom:   16,
//		MinPoints: 3,
//		Radius:    40,
//		Extent:    512,
//	})
//	if err := sc.Load(points); err != nil {
//		// configuration error, nothing was built
//	}
//	visible := sc.GetClusters(cluster.KDBounds{
//		MinX: -125, MinY: 25, MaxX: -67, MaxY: 49,
//	}, 6)
//
// Once Load returns the hierarchy is immutable and safe for concurrent
// queries. Cluster ids start at a power of ten above the input size; ids
// below that seed are indexes into the original point slice, so a single id
// addresses either kind in GetChildren, GetLeaves and
// GetClusterExpansionZoom.
package cluster
