package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Entry is one directory record: the tile-id (see package tileid),
// the run of consecutive tile-ids sharing this payload (RunLength==1
// for a normal tile; RunLength==0 marks a leaf-directory pointer
// rather than a tile), and the payload's location in the tile-data
// section (or, for a pointer, its location in the leaf-directory
// section).
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// isLeafPointer reports whether e points at a leaf directory rather
// than addressing a tile payload directly.
func (e Entry) isLeafPointer() bool { return e.RunLength == 0 }

// SerializeEntries encodes entries as the varint-columnar directory
// format: entry count, then four columns in turn — tile-id deltas,
// run-lengths, lengths, and offsets (written as 0 when an offset is
// exactly the previous entry's end, to collapse the common
// contiguous-tile-data case to a single byte).
func SerializeEntries(entries []Entry) []byte {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(entries)))

	var lastID uint64
	for _, e := range entries {
		putUvarint(&buf, e.TileID-lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		putUvarint(&buf, uint64(e.RunLength))
	}
	for _, e := range entries {
		putUvarint(&buf, uint64(e.Length))
	}

	var prevOffset, prevLength uint64
	for i, e := range entries {
		if i > 0 && e.Offset == prevOffset+prevLength {
			putUvarint(&buf, 0)
		} else {
			putUvarint(&buf, e.Offset+1)
		}
		prevOffset = e.Offset
		prevLength = uint64(e.Length)
	}

	return buf.Bytes()
}

// DeserializeEntries is the inverse of SerializeEntries.
func DeserializeEntries(d []byte) ([]Entry, error) {
	r := bytes.NewReader(d)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: reading entry count: %w", err)
	}
	entries := make([]Entry, count)

	var lastID uint64
	for i := range entries {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading tile-id delta %d: %w", i, err)
		}
		lastID += delta
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading run-length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading length %d: %w", i, err)
		}
		entries[i].Length = uint32(v)
	}

	var prevOffset, prevLength uint64
	for i := range entries {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading offset %d: %w", i, err)
		}
		if v == 0 {
			if i == 0 {
				return nil, fmt.Errorf("pmtiles: entry 0 cannot be contiguous with a predecessor")
			}
			entries[i].Offset = prevOffset + prevLength
		} else {
			entries[i].Offset = v - 1
		}
		prevOffset = entries[i].Offset
		prevLength = uint64(entries[i].Length)
	}

	return entries, nil
}

func putUvarint(w io.Writer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.Write(tmp[:n])
}

// findTileEntry binary-searches entries (sorted ascending by TileID,
// with RunLength>=1 entries covering [TileID, TileID+RunLength)) for
// the one addressing id. It returns ok==false if no entry covers id.
func findTileEntry(entries []Entry, id uint64) (Entry, bool) {
	lo, hi := 0, len(entries)-1
	var best Entry
	found := false
	for lo <= hi {
		mid := (lo + hi) / 2
		e := entries[mid]
		if e.TileID <= id {
			best = e
			found = true
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if !found {
		return Entry{}, false
	}
	if best.isLeafPointer() {
		return best, true
	}
	if id >= best.TileID+uint64(best.RunLength) {
		return Entry{}, false
	}
	return best, true
}
