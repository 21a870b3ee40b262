package pmtiles

import (
	"fmt"
	"math"
	"os"
	"sort"

	"camtiles/internal/tileid"
)

// Tile pairs a tile coordinate with its already-encoded payload.
type Tile struct {
	ZXY     tileid.ZXY
	Payload []byte
}

// WriteOptions controls the few archive-level fields the caller
// chooses rather than derives from the tile set.
type WriteOptions struct {
	TileCompression Compression
	TileType        TileType
}

// Write assembles tiles into a single archive at path: header, root
// directory, leaf directories (if any), concatenated tile payloads,
// then metadata JSON. Tiles are sorted ascending by tile-id (zoom
// first, then Hilbert order within the zoom) before being laid out,
// which is the order the reader's binary search relies on; a key that
// is out of range or repeats an earlier key fails the write.
func Write(path string, tiles []Tile, metadata []byte, opts WriteOptions) error {
	sorted := make([]Tile, len(tiles))
	copy(sorted, tiles)
	sort.Slice(sorted, func(i, j int) bool {
		a, _ := tileid.ToID(sorted[i].ZXY)
		b, _ := tileid.ToID(sorted[j].ZXY)
		return a < b
	})

	entries := make([]Entry, len(sorted))
	var tileData []byte
	var cursor uint64
	var minZoom, maxZoom uint8 = math.MaxUint8, 0
	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	for i, t := range sorted {
		id, err := tileid.ToID(t.ZXY)
		if err != nil {
			return fmt.Errorf("pmtiles: tile %+v: %w", t.ZXY, err)
		}
		if i > 0 && id <= entries[i-1].TileID {
			return fmt.Errorf("pmtiles: duplicate or out-of-order tile id %d at %+v", id, t.ZXY)
		}

		entries[i] = Entry{TileID: id, Offset: cursor, Length: uint32(len(t.Payload)), RunLength: 1}
		tileData = append(tileData, t.Payload...)
		cursor += uint64(len(t.Payload))

		if t.ZXY.Z < minZoom {
			minZoom = t.ZXY.Z
		}
		if t.ZXY.Z > maxZoom {
			maxZoom = t.ZXY.Z
		}
		lon0, lat0, lon1, lat1 := tileLonLatBounds(t.ZXY)
		minLon = math.Min(minLon, math.Min(lon0, lon1))
		maxLon = math.Max(maxLon, math.Max(lon0, lon1))
		minLat = math.Min(minLat, math.Min(lat0, lat1))
		maxLat = math.Max(maxLat, math.Max(lat0, lat1))
	}
	if len(sorted) == 0 {
		minZoom, maxZoom = 0, 0
		minLon, minLat, maxLon, maxLat = -180, -85.0511288, 180, 85.0511288
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].TileID < entries[j].TileID })
	for i := 1; i < len(entries); i++ {
		if entries[i].TileID == entries[i-1].TileID {
			return fmt.Errorf("pmtiles: duplicate tile id %d", entries[i].TileID)
		}
	}

	dirs := BuildDirectories(entries)

	rootBytes := SerializeEntries(dirs.Root)
	var leafBytes []byte
	for _, leaf := range dirs.LeafBlocks {
		leafBytes = append(leafBytes, SerializeEntries(leaf)...)
	}

	const preamble = uint64(HeaderLenBytes)
	rootOffset := preamble
	leafOffset := rootOffset + uint64(len(rootBytes))
	tileDataOffset := leafOffset + uint64(len(leafBytes))
	metadataOffset := tileDataOffset + uint64(len(tileData))

	hdr := Header{
		SpecVersion:          3,
		RootDirOffset:        rootOffset,
		RootDirBytes:         uint64(len(rootBytes)),
		LeafDirsOffset:       leafOffset,
		LeafDirsBytes:        uint64(len(leafBytes)),
		TileDataOffset:       tileDataOffset,
		TileDataBytes:        uint64(len(tileData)),
		MetadataOffset:       metadataOffset,
		MetadataBytes:        uint64(len(metadata)),
		AddressedTilesCount:  uint64(len(sorted)),
		TileEntriesCount:     uint64(len(entries)),
		TileContentsCount:    uint64(len(entries)),
		Clustered:            false,
		InternalCompression:  NoCompression,
		TileCompression:      opts.TileCompression,
		TileType:             opts.TileType,
		MinZoom:              minZoom,
		MaxZoom:              maxZoom,
		MinLonE7:             int32(minLon * 1e7),
		MinLatE7:             int32(minLat * 1e7),
		MaxLonE7:             int32(maxLon * 1e7),
		MaxLatE7:             int32(maxLat * 1e7),
		CenterZoom:           maxZoom,
		CenterLonE7:          int32((minLon + maxLon) / 2 * 1e7),
		CenterLatE7:          int32((minLat + maxLat) / 2 * 1e7),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pmtiles: creating %s: %w", path, err)
	}
	defer f.Close()

	for _, chunk := range [][]byte{hdr.Serialize(), rootBytes, leafBytes, tileData, metadata} {
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("pmtiles: writing %s: %w", path, err)
		}
	}
	return nil
}

// tileLonLatBounds returns the (lon0, lat0, lon1, lat1) corners of
// tile key under the standard spherical Web Mercator XYZ scheme —
// the inverse of the forward projection used by package viewport to
// pick tile rectangles.
func tileLonLatBounds(key tileid.ZXY) (lon0, lat0, lon1, lat1 float64) {
	dim := math.Exp2(float64(key.Z))
	lon0 = float64(key.X)/dim*360 - 180
	lon1 = float64(key.X+1)/dim*360 - 180
	lat0 = mercatorRowToLat(float64(key.Y), dim)
	lat1 = mercatorRowToLat(float64(key.Y+1), dim)
	return
}

func mercatorRowToLat(row, dim float64) float64 {
	n := math.Pi - 2*math.Pi*row/dim
	return 180 / math.Pi * math.Atan(math.Sinh(n))
}
