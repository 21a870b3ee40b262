// Package corpus implements the feature corpus: a single packed byte
// buffer of variable-length feature records, built once at startup by
// the ingestion pipeline and read-only thereafter. Feature references
// hold (index, AABB) pairs into this buffer rather than individually
// owned geometries — the flat layout is the point.
package corpus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vertex is a single planar-CRS coordinate pair.
type Vertex struct {
	X, Y float64
}

const (
	countFieldBytes = 4  // uint32 vertex count
	vertexBytes     = 16 // two float64s
	alignment       = 8  // sufficient for the count field and vertex pairs
)

// Stride returns the padded byte length of a record holding count
// vertices: the count field, the vertex array, then padding up to the
// next 8-byte boundary.
func Stride(count int) int {
	raw := countFieldBytes + count*vertexBytes
	return (raw + alignment - 1) &^ (alignment - 1)
}

// Corpus is the packed, read-only feature buffer. Re-initialization is
// allowed (ingestion may run again) but must fully complete — by
// publishing a new *Corpus — before any dependent component observes
// the change; there is no in-place mutation.
type Corpus struct {
	Data        []byte
	RecordCount int32
	ByteLength  int
}

// Empty returns a corpus with no records.
func Empty() *Corpus {
	return &Corpus{}
}

// Build packs one record per vertex list into a single contiguous
// buffer. Closing duplicate ring vertices and non-finite coordinates
// must already have been dropped by the caller (the ingester); empty
// vertex lists here are simply encoded as zero-count records only if
// present — callers should drop empty vertex lists before calling
// Build.
//
// Build fails (returning an empty corpus) if the record count would
// overflow a signed 32-bit integer, or if the accounting of the
// two-pass layout doesn't land exactly on the buffer end.
func Build(records [][]Vertex) (*Corpus, error) {
	if len(records) == 0 {
		return Empty(), nil
	}
	if len(records) > math.MaxInt32 {
		return Empty(), fmt.Errorf("corpus: record count %d overflows int32", len(records))
	}

	total := 0
	for _, r := range records {
		total += Stride(len(r))
	}

	buf := make([]byte, total)
	cursor := 0
	for _, r := range records {
		if len(r) > math.MaxInt32 {
			return Empty(), fmt.Errorf("corpus: record vertex count %d overflows int32", len(r))
		}
		stride := Stride(len(r))
		binary.LittleEndian.PutUint32(buf[cursor:cursor+countFieldBytes], uint32(len(r)))
		off := cursor + countFieldBytes
		for _, v := range r {
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v.X))
			binary.LittleEndian.PutUint64(buf[off+8:off+16], math.Float64bits(v.Y))
			off += vertexBytes
		}
		cursor += stride
	}

	if cursor != total {
		return Empty(), fmt.Errorf("corpus: cursor mismatch: wrote %d bytes, expected %d", cursor, total)
	}

	return &Corpus{Data: buf, RecordCount: int32(len(records)), ByteLength: total}, nil
}

// Offsets returns the byte offset of every record, computed by a
// single serial pass over the buffer. It is the cheap bookkeeping
// step that lets a subsequent per-record pass (e.g. bounding-box
// computation) run in parallel without racing on the variable-length
// layout.
func (c *Corpus) Offsets() ([]int, error) {
	if c == nil || c.RecordCount == 0 {
		return nil, nil
	}
	offsets := make([]int, 0, c.RecordCount)
	cursor := 0
	for i := 0; i < int(c.RecordCount); i++ {
		if cursor+countFieldBytes > len(c.Data) {
			return nil, fmt.Errorf("corpus: offsets exceeded buffer at record %d", i)
		}
		offsets = append(offsets, cursor)
		count := int(binary.LittleEndian.Uint32(c.Data[cursor : cursor+countFieldBytes]))
		cursor += Stride(count)
		if cursor > len(c.Data) {
			return nil, fmt.Errorf("corpus: offsets exceeded buffer at record %d", i)
		}
	}
	if cursor != c.ByteLength {
		return nil, fmt.Errorf("corpus: offsets traversal ended at %d bytes, expected %d", cursor, c.ByteLength)
	}
	return offsets, nil
}

// At decodes the vertices of the record starting at the given byte
// offset. It does no bounds accounting beyond the single record and
// is meant to be called once per offset returned by Offsets, possibly
// from multiple goroutines concurrently (the buffer is read-only).
func (c *Corpus) At(offset int) []Vertex {
	count := int(binary.LittleEndian.Uint32(c.Data[offset : offset+countFieldBytes]))
	verts := make([]Vertex, count)
	off := offset + countFieldBytes
	for j := 0; j < count; j++ {
		x := math.Float64frombits(binary.LittleEndian.Uint64(c.Data[off : off+8]))
		y := math.Float64frombits(binary.LittleEndian.Uint64(c.Data[off+8 : off+16]))
		verts[j] = Vertex{X: x, Y: y}
		off += vertexBytes
	}
	return verts
}

// Walk traverses every record by reading its count and advancing by
// Stride(count), invoking fn with the record index, its byte offset,
// and its decoded vertices. It is a hard accounting error if the walk
// does not land exactly on the buffer end after RecordCount records;
// Walk returns an error in that case rather than silently stopping
// short or reading past the buffer.
func (c *Corpus) Walk(fn func(index int, offset int, verts []Vertex) error) error {
	if c == nil || c.RecordCount == 0 {
		return nil
	}

	cursor := 0
	for i := 0; i < int(c.RecordCount); i++ {
		if cursor+countFieldBytes > len(c.Data) {
			return fmt.Errorf("corpus: walk exceeded buffer at record %d", i)
		}
		count := int(binary.LittleEndian.Uint32(c.Data[cursor : cursor+countFieldBytes]))
		stride := Stride(count)
		if cursor+stride > len(c.Data) {
			return fmt.Errorf("corpus: walk exceeded buffer at record %d", i)
		}

		verts := make([]Vertex, count)
		off := cursor + countFieldBytes
		for j := 0; j < count; j++ {
			x := math.Float64frombits(binary.LittleEndian.Uint64(c.Data[off : off+8]))
			y := math.Float64frombits(binary.LittleEndian.Uint64(c.Data[off+8 : off+16]))
			verts[j] = Vertex{X: x, Y: y}
			off += vertexBytes
		}

		if err := fn(i, cursor, verts); err != nil {
			return err
		}
		cursor += stride
	}

	if cursor != c.ByteLength {
		return fmt.Errorf("corpus: traversal ended at %d bytes, expected %d", cursor, c.ByteLength)
	}
	return nil
}
