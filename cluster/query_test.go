package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClustersViewport(t *testing.T) {
	points := generateRandomPoints(500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	// The generation box contains everything; a disjoint box contains nothing.
	all := sc.GetClusters(KDBounds{MinX: -126, MinY: 24, MaxX: -64, MaxY: 50}, 8)
	assert.Equal(t, len(sc.AllClusters(8)), len(all))

	none := sc.GetClusters(KDBounds{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}, 8)
	assert.Empty(t, none)
}

func TestGetClustersWorldSpanningBounds(t *testing.T) {
	points := generateRandomPoints(500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	// A box spanning 360 degrees or more covers the whole world regardless
	// of its edges.
	world := sc.GetClusters(KDBounds{MinX: 500, MinY: -90, MaxX: 900, MaxY: 90}, 8)
	assert.Equal(t, len(sc.AllClusters(8)), len(world))
}

func TestGetClustersAntimeridian(t *testing.T) {
	points := []Point{
		{ID: 1, X: 179.9, Y: 0},
		{ID: 2, X: -179.9, Y: 0},
		{ID: 3, X: 0, Y: 0},
	}
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	// West edge east of the east edge wraps the antimeridian.
	wrapped := sc.GetClusters(KDBounds{MinX: 179, MinY: -1, MaxX: -179, MaxY: 1}, 17)
	require.Len(t, wrapped, 2)

	seen := map[int64]bool{}
	for _, f := range wrapped {
		assert.False(t, seen[f.ID], "feature %d reported twice", f.ID)
		seen[f.ID] = true
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])
}

func TestGetClustersZoomClamped(t *testing.T) {
	points := generateRandomPoints(500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	bounds := KDBounds{MinX: -126, MinY: 24, MaxX: -64, MaxY: 50}

	assert.Equal(t, sc.GetClusters(bounds, 0), sc.GetClusters(bounds, -10))
	assert.Equal(t, sc.GetClusters(bounds, 17), sc.GetClusters(bounds, 99))
}

func TestGetClustersDeterministicOrder(t *testing.T) {
	points := generateRandomPoints(500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	bounds := KDBounds{MinX: -110, MinY: 30, MaxX: -90, MaxY: 45}
	first := sc.GetClusters(bounds, 7)
	second := sc.GetClusters(bounds, 7)
	assert.Equal(t, first, second)
}

func TestFeatureCoordinatesRoundTrip(t *testing.T) {
	points := []Point{{ID: 1, X: -122.4194, Y: 37.7749}}
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	features := sc.AllClusters(17)
	require.Len(t, features, 1)
	assert.InDelta(t, -122.4194, features[0].X, 1e-9)
	assert.InDelta(t, 37.7749, features[0].Y, 1e-9)
}

func TestToGeoJSON(t *testing.T) {
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(colocatedPoints()))

	fc := sc.ToGeoJSON(KDBounds{MinX: -1, MinY: 9, MaxX: 1, MaxY: 11}, 0)
	require.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "Point", f.Geometry.Type)
	require.Len(t, f.Geometry.Coordinates, 2)

	assert.Equal(t, true, f.Properties["cluster"])
	assert.Equal(t, uint32(5), f.Properties["point_count"])
	assert.Equal(t, f.Properties["id"], f.Properties["cluster_id"])
	assert.Contains(t, f.Properties, "metrics")
	assert.Contains(t, f.Properties, "category")
}

func TestToGeoJSONSinglePoint(t *testing.T) {
	points := []Point{{
		ID: 1, X: 5, Y: 5,
		Metrics:  map[string]float32{"value": 3},
		Metadata: map[string]interface{}{"category": "B"},
	}}
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	fc := sc.ToGeoJSON(KDBounds{MinX: 4, MinY: 4, MaxX: 6, MaxY: 6}, 17)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, false, f.Properties["cluster"])
	assert.Equal(t, uint32(1), f.Properties["point_count"])
	assert.NotContains(t, f.Properties, "cluster_id")
}

func TestCalculateMetadataSummary(t *testing.T) {
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(groupedPoints()))

	summary := CalculateMetadataSummary(sc.GetClusters(KDBounds{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1}, 9))

	assert.Equal(t, 6, summary.TotalPoints)
	assert.Equal(t, 2, summary.NumClusters)
	assert.Equal(t, 0, summary.NumSinglePoints)

	stats, ok := summary.MetricsSummary["value"]
	require.True(t, ok)
	assert.Equal(t, float32(3), stats.Min)
	assert.Equal(t, float32(3), stats.Max)
	assert.Equal(t, float32(6), stats.Sum)
	assert.Equal(t, float32(3), stats.Average)
}

func TestCalculateMetadataSummaryCategories(t *testing.T) {
	points := colocatedPoints()
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))

	// The raw input layer carries per-point metadata.
	summary := CalculateMetadataSummary(sc.AllClusters(17))

	assert.Equal(t, 5, summary.TotalPoints)
	assert.Equal(t, 5, summary.NumSinglePoints)

	dist, ok := summary.MetadataSummary["category"].(map[string]float64)
	require.True(t, ok)
	assert.InDelta(t, 100.0, dist["A"], 1e-9)
}

func TestCalculateMetadataSummaryEmpty(t *testing.T) {
	summary := CalculateMetadataSummary(nil)
	assert.Equal(t, 0, summary.TotalPoints)
	assert.Empty(t, summary.MetricsSummary)
	assert.Empty(t, summary.MetadataSummary)
}
