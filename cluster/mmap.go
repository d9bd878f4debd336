package cluster

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
)

// mmapWriter encodes straight into a memory-mapped region.
type mmapWriter struct {
	data   mmap.MMap
	offset int
}

func (w *mmapWriter) Write(b []byte) (int, error) {
	if w.offset+len(b) > len(w.data) {
		return 0, fmt.Errorf("mmap region overflow: need %d bytes at offset %d of %d",
			len(b), w.offset, len(w.data))
	}
	copy(w.data[w.offset:], b)
	w.offset += len(b)
	return len(b), nil
}

// countingWriter measures the encoded size before the file is mapped.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.n += int64(len(b))
	return len(b), nil
}

// encodedSize returns the exact byte size of the serialized hierarchy.
func (sc *Supercluster) encodedSize() (int64, error) {
	cw := &countingWriter{}
	if err := sc.encode(cw); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// SaveMMap writes the hierarchy into a memory-mapped file, sized exactly up
// front so the kernel can fault pages straight to disk.
func (sc *Supercluster) SaveMMap(filename string) error {
	size, err := sc.encodedSize()
	if err != nil {
		return fmt.Errorf("failed to size hierarchy: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	if err := sc.encode(&mmapWriter{data: mmapData}); err != nil {
		return fmt.Errorf("failed to encode hierarchy: %w", err)
	}

	return mmapData.Flush()
}

// LoadMMap reads a hierarchy written by SaveMMap through a read-only
// mapping, avoiding a second in-memory copy of the file.
func LoadMMap(filename string) (*Supercluster, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	return decode(bytes.NewReader(mmapData))
}

// SaveCompressedMMap writes the mmap representation and compresses it with
// zstd into the final file.
func (sc *Supercluster) SaveCompressedMMap(filename string) error {
	tempFile := filename + ".tmp"
	if err := sc.SaveMMap(tempFile); err != nil {
		return fmt.Errorf("failed to save mmap: %w", err)
	}
	defer os.Remove(tempFile)

	src, err := os.Open(tempFile)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress data: %w", err)
	}

	return enc.Close()
}

// LoadCompressedMMap decompresses a file written by SaveCompressedMMap to a
// temporary file and maps it.
func LoadCompressedMMap(filename string) (*Supercluster, error) {
	tempFile := filename + ".tmp"
	dst, err := os.Create(tempFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile)
	defer dst.Close()

	src, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	if _, err := io.Copy(dst, dec); err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync temp file: %w", err)
	}

	return LoadMMap(tempFile)
}
