package cluster

import (
	"encoding/json"
	"time"
)

// GeoJSON types
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ToGeoJSON renders the items visible in the box at the given zoom as a
// GeoJSON FeatureCollection.
func (sc *Supercluster) ToGeoJSON(bounds KDBounds, zoom int) *FeatureCollection {
	features := sc.GetClusters(bounds, zoom)

	out := make([]Feature, len(features))
	for i, f := range features {
		properties := map[string]interface{}{
			"cluster":     f.IsCluster,
			"point_count": f.Count,
			"id":          f.ID,
		}
		if f.IsCluster {
			properties["cluster_id"] = f.ID
		}
		if len(f.Metrics) > 0 {
			properties["metrics"] = f.Metrics
		}
		for k, v := range f.Metadata {
			properties[k] = v
		}

		out[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{f.X, f.Y},
			},
			Properties: properties,
		}
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: out,
	}
}

type MetadataSummary struct {
	TotalPoints     int                    `json:"totalPoints"`
	NumClusters     int                    `json:"numClusters"`
	NumSinglePoints int                    `json:"numSinglePoints"`
	MetricsSummary  map[string]MetricStats `json:"metricsSummary"`
	MetadataSummary map[string]interface{} `json:"metadataSummary"`
}

type MetricStats struct {
	Min     float32 `json:"min"`
	Max     float32 `json:"max"`
	Sum     float32 `json:"sum"`
	Average float32 `json:"average"`
}

// CalculateMetadataSummary rolls a query result up into per-metric
// statistics and metadata frequencies for dashboard-style overviews.
func CalculateMetadataSummary(features []ClusterFeature) MetadataSummary {
	summary := MetadataSummary{
		MetricsSummary:  make(map[string]MetricStats),
		MetadataSummary: make(map[string]interface{}),
	}

	if len(features) == 0 {
		return summary
	}

	metricsMap := make(map[string]struct {
		min   float32
		max   float32
		sum   float32
		count int
	})

	metadataFreq := make(map[string]map[string]int)
	timestampStats := struct {
		min   time.Time
		max   time.Time
		count int
	}{
		min: time.Now(),
		max: time.Time{},
	}

	for _, f := range features {
		if f.IsCluster {
			summary.NumClusters++
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += int(f.Count)

		for metricName, value := range f.Metrics {
			stats, exists := metricsMap[metricName]
			if !exists {
				stats.min = value
				stats.max = value
			} else {
				if value < stats.min {
					stats.min = value
				}
				if value > stats.max {
					stats.max = value
				}
			}
			stats.sum += value
			stats.count++
			metricsMap[metricName] = stats
		}

		for key, rawValue := range f.Metadata {
			if _, exists := metadataFreq[key]; !exists {
				metadataFreq[key] = make(map[string]int)
			}

			switch key {
			case "timestamp":
				var timestamp time.Time
				if err := json.Unmarshal(rawValue, &timestamp); err == nil {
					if timestamp.Before(timestampStats.min) {
						timestampStats.min = timestamp
					}
					if timestamp.After(timestampStats.max) {
						timestampStats.max = timestamp
					}
					timestampStats.count++
				}
			default:
				var strValue string
				if err := json.Unmarshal(rawValue, &strValue); err == nil {
					metadataFreq[key][strValue]++
				}
			}
		}
	}

	for metricName, stats := range metricsMap {
		summary.MetricsSummary[metricName] = MetricStats{
			Min:     stats.min,
			Max:     stats.max,
			Sum:     stats.sum,
			Average: stats.sum / float32(stats.count),
		}
	}

	if timestampStats.count > 0 {
		summary.MetadataSummary["timeRange"] = map[string]string{
			"start": timestampStats.min.Format(time.RFC3339),
			"end":   timestampStats.max.Format(time.RFC3339),
		}
	}

	for key, freqMap := range metadataFreq {
		if key == "category" {
			distribution := make(map[string]float64)
			total := 0
			for _, count := range freqMap {
				total += count
			}
			if total == 0 {
				continue
			}
			for value, count := range freqMap {
				distribution[value] = float64(count) / float64(total) * 100
			}
			summary.MetadataSummary[key] = distribution
		} else {
			var mostCommon string
			var maxCount int
			for value, count := range freqMap {
				if count > maxCount {
					maxCount = count
					mostCommon = value
				}
			}
			if maxCount > 0 {
				summary.MetadataSummary[key] = mostCommon
			}
		}
	}

	return summary
}
