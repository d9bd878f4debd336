package cluster

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// The on-disk layout is a little-endian binary stream: counts and options,
// then input points, the metrics pool, the registry nodes and finally every
// layer tree (items plus the sorted index permutation, so no re-sort happens
// on load). Map entries are written in sorted key order so identical
// hierarchies serialize to identical bytes.

// errWriter sticks to the first write error so encode paths stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) write(v interface{}) {
	if ew.err != nil {
		return
	}
	ew.err = binary.Write(ew.w, binary.LittleEndian, v)
}

func (ew *errWriter) writeBytes(b []byte) {
	if ew.err != nil {
		return
	}
	ew.write(uint32(len(b)))
	if ew.err == nil {
		_, ew.err = ew.w.Write(b)
	}
}

type errReader struct {
	r   io.Reader
	err error
}

func (er *errReader) read(v interface{}) {
	if er.err != nil {
		return
	}
	er.err = binary.Read(er.r, binary.LittleEndian, v)
}

func (er *errReader) readBytes() []byte {
	var n uint32
	er.read(&n)
	if er.err != nil {
		return nil
	}
	b := make([]byte, n)
	_, er.err = io.ReadFull(er.r, b)
	return b
}

func sortedMetricKeys(m map[string]float32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (ew *errWriter) writeMetrics(m map[string]float32) {
	ew.write(uint32(len(m)))
	for _, k := range sortedMetricKeys(m) {
		ew.writeBytes([]byte(k))
		ew.write(m[k])
	}
}

func (er *errReader) readMetrics() map[string]float32 {
	var n uint32
	er.read(&n)
	if er.err != nil || n == 0 {
		return nil
	}
	m := make(map[string]float32, n)
	for i := uint32(0); i < n; i++ {
		key := string(er.readBytes())
		var v float32
		er.read(&v)
		m[key] = v
	}
	return m
}

func (ew *errWriter) writeRawMetadata(m map[string]json.RawMessage) {
	ew.write(uint32(len(m)))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ew.writeBytes([]byte(k))
		ew.writeBytes(m[k])
	}
}

func (er *errReader) readRawMetadata() map[string]json.RawMessage {
	var n uint32
	er.read(&n)
	if er.err != nil || n == 0 {
		return nil
	}
	m := make(map[string]json.RawMessage, n)
	for i := uint32(0); i < n; i++ {
		key := string(er.readBytes())
		m[key] = json.RawMessage(er.readBytes())
	}
	return m
}

// encode serializes the built hierarchy. Combine functions cannot be
// serialized; a loaded hierarchy is query-only, which is all an immutable
// structure needs.
func (sc *Supercluster) encode(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.write(uint32(len(sc.Points)))
	ew.write(uint32(sc.Registry.Len()))
	ew.write(uint32(sc.Pool.Len()))

	ew.write(int32(sc.Options.MinZoom))
	ew.write(int32(sc.Options.MaxZoom))
	ew.write(int32(sc.Options.MinPoints))
	ew.write(sc.Options.Radius)
	ew.write(int32(sc.Options.Extent))
	ew.write(int32(sc.Options.NodeSize))
	ew.write(uint32(sc.skipped))
	ew.write(sc.Registry.Seed())

	for _, p := range sc.Points {
		ew.write(p.ID)
		ew.write(p.X)
		ew.write(p.Y)
		ew.writeMetrics(p.Metrics)

		ew.write(uint32(len(p.Metadata)))
		keys := make([]string, 0, len(p.Metadata))
		for k := range p.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			valueBytes, err := json.Marshal(p.Metadata[k])
			if err != nil {
				return fmt.Errorf("failed to marshal metadata value: %w", err)
			}
			ew.writeBytes([]byte(k))
			ew.writeBytes(valueBytes)
		}
	}

	for _, metrics := range sc.Pool.Metrics {
		ew.writeMetrics(metrics)
	}

	for i := range sc.Registry.nodes {
		node := &sc.Registry.nodes[i]
		ew.write(node.X)
		ew.write(node.Y)
		ew.write(node.Count)
		ew.write(int32(node.Zoom))
		ew.write(node.MetricIdx)
		ew.write(uint32(len(node.Children)))
		for _, c := range node.Children {
			ew.write(c)
		}
		ew.writeRawMetadata(node.Metadata)
	}

	for z := sc.Options.MinZoom; z <= sc.Options.MaxZoom+1; z++ {
		tree := sc.Trees[z]
		ew.write(uint32(len(tree.points)))
		for _, p := range tree.points {
			ew.write(p.X)
			ew.write(p.Y)
			ew.write(p.ID)
			ew.write(p.NumPoints)
			ew.write(p.MetricIdx)
			ew.write(p.zoom)
			ew.write(p.parent)
		}
		ew.write(tree.idxs)
	}

	return ew.err
}

// decode rebuilds a hierarchy from its serialized form.
func decode(r io.Reader) (*Supercluster, error) {
	er := &errReader{r: r}

	var numPoints, numClusters, numMetrics uint32
	er.read(&numPoints)
	er.read(&numClusters)
	er.read(&numMetrics)

	var minZoom, maxZoom, minPoints, extent, nodeSize int32
	var radius float64
	var skipped uint32
	var seed int64
	er.read(&minZoom)
	er.read(&maxZoom)
	er.read(&minPoints)
	er.read(&radius)
	er.read(&extent)
	er.read(&nodeSize)
	er.read(&skipped)
	er.read(&seed)
	if er.err != nil {
		return nil, fmt.Errorf("failed to read header: %w", er.err)
	}

	sc := NewSupercluster(Options{
		MinZoom:   int(minZoom),
		MaxZoom:   int(maxZoom),
		MinPoints: int(minPoints),
		Radius:    radius,
		Extent:    int(extent),
		NodeSize:  int(nodeSize),
	})
	sc.skipped = int(skipped)

	sc.Points = make([]Point, numPoints)
	for i := range sc.Points {
		p := &sc.Points[i]
		er.read(&p.ID)
		er.read(&p.X)
		er.read(&p.Y)
		p.Metrics = er.readMetrics()

		var metadataSize uint32
		er.read(&metadataSize)
		if metadataSize > 0 {
			p.Metadata = make(map[string]interface{}, metadataSize)
			for j := uint32(0); j < metadataSize; j++ {
				key := string(er.readBytes())
				valueBytes := er.readBytes()
				if er.err != nil {
					break
				}
				var value interface{}
				if err := json.Unmarshal(valueBytes, &value); err != nil {
					return nil, fmt.Errorf("failed to unmarshal metadata value: %w", err)
				}
				p.Metadata[key] = value
			}
		}
	}

	sc.Pool = NewMetricsPool()
	sc.Pool.Metrics = make([]map[string]float32, numMetrics)
	for i := range sc.Pool.Metrics {
		m := er.readMetrics()
		sc.Pool.Metrics[i] = m
		sc.Pool.Lookup[metricsKey(m)] = i
	}

	sc.Registry = newRegistry(seed)
	sc.Registry.nodes = make([]ClusterNode, numClusters)
	for i := range sc.Registry.nodes {
		node := &sc.Registry.nodes[i]
		node.ID = seed + int64(i)
		er.read(&node.X)
		er.read(&node.Y)
		er.read(&node.Count)
		var zoom int32
		er.read(&zoom)
		node.Zoom = int(zoom)
		er.read(&node.MetricIdx)
		var numChildren uint32
		er.read(&numChildren)
		if numChildren > 0 {
			node.Children = make([]int64, numChildren)
			er.read(node.Children)
		}
		node.Metadata = er.readRawMetadata()
	}

	sc.Trees = make([]*kdTree, sc.Options.MaxZoom+2)
	for z := sc.Options.MinZoom; z <= sc.Options.MaxZoom+1; z++ {
		var numItems uint32
		er.read(&numItems)
		if er.err != nil {
			return nil, fmt.Errorf("failed to read layer %d: %w", z, er.err)
		}
		tree := &kdTree{
			points:   make([]*layerPoint, numItems),
			idxs:     make([]int32, numItems),
			coords:   make([]float64, 2*numItems),
			nodeSize: sc.Options.NodeSize,
		}
		for i := range tree.points {
			p := &layerPoint{}
			er.read(&p.X)
			er.read(&p.Y)
			er.read(&p.ID)
			er.read(&p.NumPoints)
			er.read(&p.MetricIdx)
			er.read(&p.zoom)
			er.read(&p.parent)
			tree.points[i] = p
			tree.coords[2*i] = p.X
			tree.coords[2*i+1] = p.Y
		}
		er.read(tree.idxs)
		sc.Trees[z] = tree
	}

	if er.err != nil {
		return nil, fmt.Errorf("failed to decode hierarchy: %w", er.err)
	}
	return sc, nil
}

// SaveCompressed writes the built hierarchy to a zstd-compressed file.
func (sc *Supercluster) SaveCompressed(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if err := sc.encode(enc); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode hierarchy: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}

	return nil
}

// LoadCompressed reads a hierarchy saved by SaveCompressed. The loaded
// structure is query-only: the metrics combiner is not part of the file.
func LoadCompressed(filename string) (*Supercluster, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	bufReader := bufio.NewReaderSize(file, 1024*1024)
	dec, err := zstd.NewReader(bufReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	return decode(dec)
}
