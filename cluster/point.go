package cluster

import "math"

// Point is one raw input point. X is longitude and Y is latitude. Metrics
// are numeric values rolled up into clusters through the configured
// combiner; Metadata is carried into clusters only where every member
// agrees on the value.
type Point struct {
	ID       uint32
	X, Y     float64
	Metrics  map[string]float32
	Metadata map[string]interface{}
}

// KDBounds is a geographic bounding box in longitude/latitude. A box whose
// MinX exceeds its MaxX is interpreted as wrapping the antimeridian.
type KDBounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Extend expands bounds to include another point.
func (b *KDBounds) Extend(x, y float64) {
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

// project maps longitude/latitude onto spherical mercator in the unit
// square. North latitudes map to smaller y.
func project(lng, lat float64) (float64, float64) {
	x := lng/360 + 0.5
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		y = 0
	}
	if y > 1 {
		y = 1
	}
	return x, y
}

// unproject maps unit-square mercator coordinates back to longitude/latitude.
func unproject(x, y float64) (float64, float64) {
	lng := (x - 0.5) * 360
	y2 := (180 - y*360) * math.Pi / 180
	lat := 360*math.Atan(math.Exp(y2))/math.Pi - 90
	return lng, lat
}

func finiteCoords(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
