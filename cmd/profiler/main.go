package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"web/zoomcluster/cluster"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile = flag.String("memprofile", "", "write memory profile to file")
	numPoints  = flag.Int("points", 100000, "number of points to generate")
	zoomLevel  = flag.Int("zoom", 8, "zoom level to query")
	testall    = flag.Bool("testall", false, "run the full build/query battery")
)

// generateRandomPoints creates n random points within a geographic bounding box
func generateRandomPoints(n int, minLng, maxLng, minLat, maxLat float64) []cluster.Point {
	points := make([]cluster.Point, n)
	// Use deterministic seed for reproducibility
	source := rand.NewSource(42)
	r := rand.New(source)

	for i := 0; i < n; i++ {
		points[i] = cluster.Point{
			ID: uint32(i + 1),
			X:  minLng + r.Float64()*(maxLng-minLng),
			Y:  minLat + r.Float64()*(maxLat-minLat),
			Metrics: map[string]float32{
				"value": r.Float32() * 100,
			},
			Metadata: map[string]interface{}{
				"type": "test",
			},
		}
	}
	return points
}

func buildHierarchy(n int) (*cluster.Supercluster, time.Duration, float64) {
	sc := cluster.NewSupercluster(cluster.Options{
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 3,
		Radius:    40,
		Extent:    512,
		NodeSize:  64,
	})

	points := generateRandomPoints(n, -125.0, -65.0, 25.0, 49.0)

	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)

	start := time.Now()
	if err := sc.Load(points); err != nil {
		fmt.Fprintf(os.Stderr, "Could not build hierarchy: %v\n", err)
		os.Exit(1)
	}
	duration := time.Since(start)

	runtime.ReadMemStats(&memStatsAfter)
	allocMB := float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024

	return sc, duration, allocMB
}

func runSingleProfile(numPoints, zoomLevel int) {
	fmt.Printf("Profiling with %d points, querying at zoom level %d\n", numPoints, zoomLevel)

	sc, buildTime, allocMB := buildHierarchy(numPoints)
	fmt.Printf("Build completed in %v\n", buildTime)
	fmt.Printf("Memory allocated during build: %.2f MB\n", allocMB)
	fmt.Printf("Clusters created: %d\n", sc.Registry.Len())

	// A viewport roughly the size of a metro area inside the generated box.
	viewport := cluster.KDBounds{MinX: -100.0, MinY: 35.0, MaxX: -95.0, MaxY: 40.0}

	start := time.Now()
	const queryRuns = 1000
	var total int
	for i := 0; i < queryRuns; i++ {
		total += len(sc.GetClusters(viewport, zoomLevel))
	}
	queryTime := time.Since(start) / queryRuns

	fmt.Printf("Viewport query: %v avg over %d runs (%d features)\n",
		queryTime, queryRuns, total/queryRuns)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fmt.Printf("Memory usage: %.2f MB\n", float64(memStats.Alloc)/1024/1024)
}

func runProfileBattery() {
	pointCounts := []int{1000, 10000, 50000, 100000}
	zoomLevels := []int{2, 5, 8, 12, 15}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	fmt.Printf("%-10s | %-10s | %-15s | %-15s | %-12s | %-10s\n",
		"Points", "Zoom", "Build", "Query (avg)", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, points := range pointCounts {
		var memStatsBefore, memStatsAfter runtime.MemStats
		runtime.ReadMemStats(&memStatsBefore)

		sc, buildTime, memMB := buildHierarchy(points)

		runtime.ReadMemStats(&memStatsAfter)
		gcRuns := memStatsAfter.NumGC - memStatsBefore.NumGC

		viewport := cluster.KDBounds{MinX: -100.0, MinY: 35.0, MaxX: -95.0, MaxY: 40.0}
		for _, zoom := range zoomLevels {
			const queryRuns = 100
			start := time.Now()
			for i := 0; i < queryRuns; i++ {
				sc.GetClusters(viewport, zoom)
			}
			queryTime := time.Since(start) / queryRuns

			fmt.Printf("%-10d | %-10d | %-15s | %-15s | %-12.2f | %-10d\n",
				points, zoom, buildTime, queryTime, memMB, gcRuns)
		}

		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numPoints, *zoomLevel)
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}
}
