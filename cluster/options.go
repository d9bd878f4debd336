package cluster

import "fmt"

// MetricsCombiner folds one member's metrics into a cluster's accumulator
// while the cluster is being formed. The member's raw point count is passed
// so combiners can weight by it. A nil combiner means clusters carry only
// their point count.
type MetricsCombiner func(acc map[string]float32, member map[string]float32, memberCount uint32)

// SumMetrics adds each member metric into the accumulator. Because cluster
// members already carry aggregate sums, plain addition yields the total over
// all leaves.
func SumMetrics(acc map[string]float32, member map[string]float32, _ uint32) {
	for k, v := range member {
		acc[k] += v
	}
}

// Options configures a Supercluster build.
type Options struct {
	MinZoom   int     // lowest zoom a layer is built for
	MaxZoom   int     // highest zoom a layer is built for, capped at 21
	MinPoints int     // minimum summed point count to form a cluster
	Radius    float64 // clustering radius in pixels at tile extent
	Extent    int     // tile extent in pixels the radius refers to
	NodeSize  int     // kd-tree leaf size; larger builds faster, queries slower
	Strict    bool    // fail the build on malformed points instead of skipping
	Combine   MetricsCombiner
	Log       bool // emit build progress through the standard logger
}

const maxSupportedZoom = 21

// withDefaults fills zero fields with the default configuration.
func (o Options) withDefaults() Options {
	if o.MaxZoom == 0 {
		o.MaxZoom = 16
	}
	if o.MaxZoom > maxSupportedZoom {
		o.MaxZoom = maxSupportedZoom
	}
	if o.MinPoints == 0 {
		o.MinPoints = 3
	}
	if o.Radius == 0 {
		o.Radius = 40
	}
	if o.Extent == 0 {
		o.Extent = 512
	}
	if o.NodeSize == 0 {
		o.NodeSize = 64
	}
	return o
}

// validate rejects configurations that cannot build a hierarchy. It runs
// after defaults are applied, so only explicit bad values reach it.
func (o Options) validate() error {
	if o.Radius <= 0 {
		return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidOptions, o.Radius)
	}
	if o.MinZoom < 0 {
		return fmt.Errorf("%w: min zoom must not be negative, got %d", ErrInvalidOptions, o.MinZoom)
	}
	if o.MinZoom > o.MaxZoom {
		return fmt.Errorf("%w: min zoom %d exceeds max zoom %d", ErrInvalidOptions, o.MinZoom, o.MaxZoom)
	}
	if o.MinPoints < 2 {
		return fmt.Errorf("%w: min points must be at least 2, got %d", ErrInvalidOptions, o.MinPoints)
	}
	if o.Extent <= 0 {
		return fmt.Errorf("%w: extent must be positive, got %d", ErrInvalidOptions, o.Extent)
	}
	if o.NodeSize <= 0 {
		return fmt.Errorf("%w: node size must be positive, got %d", ErrInvalidOptions, o.NodeSize)
	}
	return nil
}
