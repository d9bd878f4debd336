package cluster

import (
	"fmt"
	"runtime"
	"testing"
)

// benchmarkBuild measures a full hierarchy build for a given input size.
func benchmarkBuild(b *testing.B, numPoints int) {
	points := generateRandomPoints(numPoints, -125.0, -65.0, 25.0, 49.0)

	// Track memory usage before and after
	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sc := NewSupercluster(defaultTestOptions())
		if err := sc.Load(points); err != nil {
			b.Fatal(err)
		}
	}

	b.StopTimer()
	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024 / float64(b.N)
	b.ReportMetric(allocMB, "MB/build")
}

func BenchmarkBuild1000(b *testing.B)   { benchmarkBuild(b, 1000) }
func BenchmarkBuild10000(b *testing.B)  { benchmarkBuild(b, 10000) }
func BenchmarkBuild100000(b *testing.B) { benchmarkBuild(b, 100000) }

// benchmarkQuery measures viewport queries against a prebuilt hierarchy.
func benchmarkQuery(b *testing.B, numPoints, zoom int) {
	points := generateRandomPoints(numPoints, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	if err := sc.Load(points); err != nil {
		b.Fatal(err)
	}

	viewport := KDBounds{MinX: -100.0, MinY: 35.0, MaxX: -95.0, MaxY: 40.0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sc.GetClusters(viewport, zoom)
	}
}

func BenchmarkQuery(b *testing.B) {
	for _, numPoints := range []int{10000, 100000} {
		for _, zoom := range []int{2, 8, 15} {
			b.Run(fmt.Sprintf("points=%d/zoom=%d", numPoints, zoom), func(b *testing.B) {
				benchmarkQuery(b, numPoints, zoom)
			})
		}
	}
}

func BenchmarkGetLeaves(b *testing.B) {
	points := generateRandomPoints(100000, -125.0, -65.0, 25.0, 49.0)
	sc := NewSupercluster(defaultTestOptions())
	if err := sc.Load(points); err != nil {
		b.Fatal(err)
	}

	// The biggest cluster at the lowest zoom exercises the deepest walks.
	var target int64
	var most uint32
	for _, f := range sc.AllClusters(0) {
		if f.IsCluster && f.Count > most {
			most = f.Count
			target = f.ID
		}
	}
	if target == 0 {
		b.Skip("no cluster formed")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sc.GetLeaves(target, 100, 0); err != nil {
			b.Fatal(err)
		}
	}
}
