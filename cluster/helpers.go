package cluster

import (
	"fmt"
	"math/rand"
	"time"
)

// GenerateTestPoints creates n random points inside a bounding box, with a
// few metric and metadata fields, for demos and load testing.
func GenerateTestPoints(n int, bounds KDBounds) []Point {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	points := make([]Point, n)
	randomMetricName := fmt.Sprintf("metric_%d", r.Intn(1000))

	for i := 0; i < n; i++ {
		x := bounds.MinX + r.Float64()*(bounds.MaxX-bounds.MinX)
		y := bounds.MinY + r.Float64()*(bounds.MaxY-bounds.MinY)

		points[i] = Point{
			ID: uint32(i + 1),
			X:  x,
			Y:  y,
			Metrics: map[string]float32{
				"value":          r.Float32() * 100,
				"size":           r.Float32() * 50,
				"sales":          r.Float32() * 1000,
				"customers":      float32(r.Intn(100)),
				randomMetricName: r.Float32() * 200,
			},
			Metadata: map[string]interface{}{
				"timestamp": time.Now().Add(-time.Duration(r.Intn(7*24)) * time.Hour),
				"category":  []string{"A", "B", "C"}[r.Intn(3)],
			},
		}
	}

	return points
}
