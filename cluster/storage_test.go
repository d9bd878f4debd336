package cluster

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSavedHierarchy(t *testing.T) *Supercluster {
	t.Helper()
	points := generateRandomPoints(1500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))
	return sc
}

// assertQueryEquivalent checks that a loaded hierarchy answers queries
// exactly like the one it was saved from.
func assertQueryEquivalent(t *testing.T, want, got *Supercluster) {
	t.Helper()

	require.Equal(t, len(want.Points), len(got.Points))
	require.Equal(t, want.Registry.Len(), got.Registry.Len())
	require.Equal(t, want.Registry.Seed(), got.Registry.Seed())
	assert.Equal(t, want.Skipped(), got.Skipped())

	for _, zoom := range []int{0, 4, 8, 12, 16, 17} {
		assert.Equal(t, want.AllClusters(zoom), got.AllClusters(zoom), "zoom %d", zoom)
	}

	bounds := KDBounds{MinX: -110, MinY: 30, MaxX: -90, MaxY: 45}
	assert.Equal(t, want.GetClusters(bounds, 7), got.GetClusters(bounds, 7))

	for _, f := range want.AllClusters(0) {
		if !f.IsCluster {
			continue
		}
		wantLeaves, err := want.GetLeaves(f.ID, 10, 0)
		require.NoError(t, err)
		gotLeaves, err := got.GetLeaves(f.ID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, wantLeaves, gotLeaves)

		wantZoom, err := want.GetClusterExpansionZoom(f.ID)
		require.NoError(t, err)
		gotZoom, err := got.GetClusterExpansionZoom(f.ID)
		require.NoError(t, err)
		assert.Equal(t, wantZoom, gotZoom)
	}
}

func TestSaveLoadCompressed(t *testing.T) {
	sc := buildSavedHierarchy(t)
	path := filepath.Join(t.TempDir(), "hierarchy.zst")

	require.NoError(t, sc.SaveCompressed(path))

	loaded, err := LoadCompressed(path)
	require.NoError(t, err)

	assertQueryEquivalent(t, sc, loaded)
}

func TestSaveLoadMMap(t *testing.T) {
	sc := buildSavedHierarchy(t)
	path := filepath.Join(t.TempDir(), "hierarchy.bin")

	require.NoError(t, sc.SaveMMap(path))

	loaded, err := LoadMMap(path)
	require.NoError(t, err)

	assertQueryEquivalent(t, sc, loaded)
}

func TestSaveLoadCompressedMMap(t *testing.T) {
	sc := buildSavedHierarchy(t)
	path := filepath.Join(t.TempDir(), "hierarchy.zst")

	require.NoError(t, sc.SaveCompressedMMap(path))

	loaded, err := LoadCompressedMMap(path)
	require.NoError(t, err)

	assertQueryEquivalent(t, sc, loaded)
}

func TestSavePreservesOptions(t *testing.T) {
	options := Options{
		MinZoom:   2,
		MaxZoom:   14,
		MinPoints: 5,
		Radius:    80,
		Extent:    256,
		NodeSize:  32,
		Combine:   SumMetrics,
	}
	points := generateRandomPoints(500, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(options)
	require.NoError(t, sc.Load(points))

	path := filepath.Join(t.TempDir(), "hierarchy.zst")
	require.NoError(t, sc.SaveCompressed(path))

	loaded, err := LoadCompressed(path)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Options.MinZoom)
	assert.Equal(t, 14, loaded.Options.MaxZoom)
	assert.Equal(t, 5, loaded.Options.MinPoints)
	assert.Equal(t, float64(80), loaded.Options.Radius)
	assert.Equal(t, 256, loaded.Options.Extent)
	assert.Equal(t, 32, loaded.Options.NodeSize)
}

func TestSavePreservesSkippedCount(t *testing.T) {
	points := colocatedPoints()
	points = append(points, Point{ID: 100, X: math.Inf(1), Y: 10})

	sc := NewSupercluster(defaultTestOptions())
	require.NoError(t, sc.Load(points))
	require.Equal(t, 1, sc.Skipped())

	path := filepath.Join(t.TempDir(), "hierarchy.zst")
	require.NoError(t, sc.SaveCompressed(path))

	loaded, err := LoadCompressed(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Skipped())
}

func TestEncodedSizeMatchesMMapFile(t *testing.T) {
	sc := buildSavedHierarchy(t)

	size, err := sc.encodedSize()
	require.NoError(t, err)
	assert.Positive(t, size)

	path := filepath.Join(t.TempDir(), "hierarchy.bin")
	require.NoError(t, sc.SaveMMap(path))

	loaded, err := LoadMMap(path)
	require.NoError(t, err)
	assert.Equal(t, len(sc.Points), len(loaded.Points))
}
