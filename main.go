package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"web/zoomcluster/cluster"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const hierarchySaveDir = "data/hierarchies"

var (
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zoomcluster_http_request_duration_seconds",
		Help:    "HTTP request latency by route, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoomcluster_build_duration_seconds",
		Help:    "Time spent building a full cluster hierarchy.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	hierarchyPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zoomcluster_hierarchy_points",
		Help: "Number of points in the currently served hierarchy.",
	})
)

func init() {
	prometheus.MustRegister(httpDuration, buildDuration, hierarchyPoints)
}

// HierarchyServer serves one built hierarchy at a time. Swapping it in is
// the only mutation; queries against an already-handed-out hierarchy stay
// valid because the structure itself is immutable.
type HierarchyServer struct {
	mu     sync.RWMutex
	sc     *cluster.Supercluster
	logger *log.Logger
}

func (s *HierarchyServer) current() *cluster.Supercluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sc
}

func (s *HierarchyServer) swap(sc *cluster.Supercluster) {
	s.mu.Lock()
	s.sc = sc
	s.mu.Unlock()
	if sc != nil {
		hierarchyPoints.Set(float64(len(sc.Points)))
	}
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func generateHierarchyFilename(size int) string {
	timestamp := time.Now().Format("20060102-150405")
	id := uuid.New().String()[:8]
	return filepath.Join(hierarchySaveDir, fmt.Sprintf("hierarchy-%dp-%s-%s.zst", size, timestamp, id))
}

// HierarchyInfo describes one saved hierarchy file.
type HierarchyInfo struct {
	ID        string    `json:"id"`
	NumPoints int       `json:"numPoints"`
	Timestamp time.Time `json:"timestamp"`
	FileSize  int64     `json:"fileSize"`
}

func (s *HierarchyServer) buildHierarchy(numPoints int) (*cluster.Supercluster, error) {
	bounds := cluster.KDBounds{
		MinX: -125.0,
		MinY: 25.0,
		MaxX: -67.0,
		MaxY: 49.0,
	}
	points := cluster.GenerateTestPoints(numPoints, bounds)

	sc := cluster.NewSupercluster(cluster.Options{
		MinZoom:   0,
		MaxZoom:   16,
		MinPoints: 2,
		Radius:    100,
		Extent:    512,
		NodeSize:  64,
		Combine:   cluster.SumMetrics,
	})

	start := time.Now()
	if err := sc.Load(points); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	buildDuration.Observe(elapsed.Seconds())
	s.logger.Info("hierarchy built", "points", numPoints, "clusters", sc.Registry.Len(), "elapsed", elapsed)

	savePath := generateHierarchyFilename(numPoints)
	saveStart := time.Now()
	if err := sc.SaveCompressed(savePath); err != nil {
		s.logger.Error("failed to save hierarchy", "path", savePath, "err", err)
	} else if fileInfo, err := os.Stat(savePath); err == nil {
		s.logger.Info("hierarchy saved", "path", savePath,
			"elapsed", time.Since(saveStart), "size", formatFileSize(fileInfo.Size()))
	}

	return sc, nil
}

func (s *HierarchyServer) listHierarchies() ([]HierarchyInfo, error) {
	files, err := os.ReadDir(hierarchySaveDir)
	if err != nil {
		return nil, err
	}

	infos := make([]HierarchyInfo, 0)
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".zst" {
			continue
		}

		// Format: hierarchy-{numPoints}p-{timestamp}-{id}.zst
		name := strings.TrimSuffix(file.Name(), ".zst")
		parts := strings.Split(name, "-")
		if len(parts) != 5 {
			continue
		}

		numPoints, err := strconv.Atoi(strings.TrimSuffix(parts[1], "p"))
		if err != nil {
			continue
		}
		timestamp, err := time.Parse("20060102-150405", parts[2]+"-"+parts[3])
		if err != nil {
			continue
		}
		fi, err := file.Info()
		if err != nil {
			continue
		}

		infos = append(infos, HierarchyInfo{
			ID:        parts[4],
			NumPoints: numPoints,
			Timestamp: timestamp,
			FileSize:  fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}

func (s *HierarchyServer) loadHierarchyByID(id string) (*HierarchyInfo, error) {
	files, err := os.ReadDir(hierarchySaveDir)
	if err != nil {
		return nil, err
	}

	var path string
	var info *HierarchyInfo
	for _, file := range files {
		if !strings.Contains(file.Name(), id) {
			continue
		}
		path = filepath.Join(hierarchySaveDir, file.Name())
		name := strings.TrimSuffix(file.Name(), ".zst")
		parts := strings.Split(name, "-")
		if len(parts) == 5 {
			numPoints, _ := strconv.Atoi(strings.TrimSuffix(parts[1], "p"))
			timestamp, _ := time.Parse("20060102-150405", parts[2]+"-"+parts[3])
			if fi, err := os.Stat(path); err == nil {
				info = &HierarchyInfo{
					ID:        parts[4],
					NumPoints: numPoints,
					Timestamp: timestamp,
					FileSize:  fi.Size(),
				}
			}
		}
		break
	}

	if path == "" {
		return nil, fmt.Errorf("hierarchy with ID %s not found", id)
	}

	loadStart := time.Now()
	sc, err := cluster.LoadCompressed(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy: %w", err)
	}
	s.logger.Info("hierarchy loaded", "path", path, "elapsed", time.Since(loadStart))

	s.swap(sc)
	return info, nil
}

func getBoundsFromQuery(c *gin.Context) (cluster.KDBounds, error) {
	north, err := strconv.ParseFloat(c.Query("north"), 64)
	if err != nil {
		return cluster.KDBounds{}, fmt.Errorf("invalid north parameter")
	}
	south, err := strconv.ParseFloat(c.Query("south"), 64)
	if err != nil {
		return cluster.KDBounds{}, fmt.Errorf("invalid south parameter")
	}
	east, err := strconv.ParseFloat(c.Query("east"), 64)
	if err != nil {
		return cluster.KDBounds{}, fmt.Errorf("invalid east parameter")
	}
	west, err := strconv.ParseFloat(c.Query("west"), 64)
	if err != nil {
		return cluster.KDBounds{}, fmt.Errorf("invalid west parameter")
	}

	return cluster.KDBounds{
		MinX: west,
		MinY: south,
		MaxX: east,
		MaxY: north,
	}, nil
}

func metricsMiddleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(route, c.Request.Method,
		strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
}

func nodeQueryStatus(err error) int {
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cluster.ErrNotCluster):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
	})

	if err := os.MkdirAll(hierarchySaveDir, 0755); err != nil {
		logger.Error("failed to create hierarchy directory", "dir", hierarchySaveDir, "err", err)
	}

	server := &HierarchyServer{logger: logger}
	logger.Info("started with empty server, waiting for a hierarchy to be built or loaded")

	r := gin.New()
	r.Use(gin.Recovery(), metricsMiddleware)

	// Enable CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	requireHierarchy := func(c *gin.Context) *cluster.Supercluster {
		sc := server.current()
		if sc == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "No hierarchy loaded"})
			return nil
		}
		return sc
	}

	// Viewport query: items visible at a zoom inside a bounding box.
	r.GET("/api/clusters", func(c *gin.Context) {
		sc := requireHierarchy(c)
		if sc == nil {
			return
		}

		zoom, err := strconv.Atoi(c.Query("zoom"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom parameter"})
			return
		}
		bounds, err := getBoundsFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, sc.ToGeoJSON(bounds, zoom))
	})

	r.GET("/api/clusters/metadata", func(c *gin.Context) {
		sc := requireHierarchy(c)
		if sc == nil {
			return
		}

		zoom, err := strconv.Atoi(c.Query("zoom"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom parameter"})
			return
		}
		bounds, err := getBoundsFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, cluster.CalculateMetadataSummary(sc.GetClusters(bounds, zoom)))
	})

	// Drill-down queries by node id.
	r.GET("/api/nodes/:id/children", func(c *gin.Context) {
		sc := requireHierarchy(c)
		if sc == nil {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node id"})
			return
		}
		children, err := sc.GetChildren(id)
		if err != nil {
			c.JSON(nodeQueryStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, children)
	})

	r.GET("/api/nodes/:id/leaves", func(c *gin.Context) {
		sc := requireHierarchy(c)
		if sc == nil {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node id"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		leaves, err := sc.GetLeaves(id, limit, offset)
		if err != nil {
			c.JSON(nodeQueryStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, leaves)
	})

	r.GET("/api/nodes/:id/expansion-zoom", func(c *gin.Context) {
		sc := requireHierarchy(c)
		if sc == nil {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid node id"})
			return
		}
		zoom, err := sc.GetClusterExpansionZoom(id)
		if err != nil {
			c.JSON(nodeQueryStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"expansionZoom": zoom})
	})

	// Hierarchy lifecycle.
	r.GET("/api/clusters/list", func(c *gin.Context) {
		infos, err := server.listHierarchies()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, infos)
	})

	r.POST("/api/clusters", func(c *gin.Context) {
		var req struct {
			NumPoints int `json:"numPoints"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if req.NumPoints <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "numPoints must be positive"})
			return
		}

		sc, err := server.buildHierarchy(req.NumPoints)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		server.swap(sc)

		c.JSON(http.StatusOK, gin.H{"message": "New hierarchy created", "numPoints": len(sc.Points)})
	})

	r.POST("/api/clusters/load/:id", func(c *gin.Context) {
		info, err := server.loadHierarchyByID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Hierarchy loaded successfully", "hierarchyInfo": info})
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", ":8000")
		if err := r.Run(":8000"); err != nil {
			logger.Error("server error", "err", err)
		}
	}()

	<-quit
	logger.Info("shutting down server")

	if sc := server.current(); sc != nil {
		savePath := generateHierarchyFilename(len(sc.Points))
		saveStart := time.Now()
		if err := sc.SaveCompressed(savePath); err != nil {
			logger.Error("failed to save hierarchy on shutdown", "err", err)
		} else {
			logger.Info("hierarchy saved on shutdown", "path", savePath, "elapsed", time.Since(saveStart))
		}
	}

	logger.Info("server stopped")
}
