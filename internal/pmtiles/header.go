// Package pmtiles implements a PMTiles-family tile-archive container:
// a 127-byte fixed header, a root directory, zero or more leaf
// directories, a concatenated tile-data blob, and a trailing metadata
// JSON blob. The on-disk layout, the Hilbert tile-id ordering
// (package tileid), and the varint-columnar directory encoding are
// bit-exact so other tools speaking the same format can interoperate.
package pmtiles

import (
	"encoding/binary"
	"fmt"
)

// Compression identifies how an individual tile payload, or the
// directory bytes themselves, are compressed. The writer in this
// package always uses NoCompression for directories — identity
// compression — but carries whatever tile compression code the
// caller supplies for the payloads it did not itself produce.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression       Compression = 1
	Gzip                Compression = 2
	Brotli              Compression = 3
	Zstd                Compression = 4
)

// TileType identifies the format of individual tile payloads.
type TileType uint8

const (
	UnknownTileType TileType = 0
	MVT             TileType = 1
	PNG             TileType = 2
	JPEG            TileType = 3
	WEBP            TileType = 4
	AVIF            TileType = 5
)

// HeaderLenBytes is the fixed on-disk header size.
const HeaderLenBytes = 127

const magic = "PMTiles"

// Header is the archive's fixed 127-byte preamble.
type Header struct {
	SpecVersion uint8

	RootDirOffset  uint64
	RootDirBytes   uint64
	MetadataOffset uint64
	MetadataBytes  uint64
	LeafDirsOffset uint64
	LeafDirsBytes  uint64
	TileDataOffset uint64
	TileDataBytes  uint64

	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64

	Clustered bool

	InternalCompression Compression
	TileCompression     Compression
	TileType             TileType

	MinZoom uint8
	MaxZoom uint8

	MinLonE7 int32
	MinLatE7 int32
	MaxLonE7 int32
	MaxLatE7 int32

	CenterZoom  uint8
	CenterLonE7 int32
	CenterLatE7 int32
}

// Serialize encodes the header to exactly HeaderLenBytes bytes.
func (h Header) Serialize() []byte {
	b := make([]byte, HeaderLenBytes)
	copy(b[0:7], magic)
	b[7] = h.SpecVersion

	binary.LittleEndian.PutUint64(b[8:16], h.RootDirOffset)
	binary.LittleEndian.PutUint64(b[16:24], h.RootDirBytes)
	binary.LittleEndian.PutUint64(b[24:32], h.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:40], h.MetadataBytes)
	binary.LittleEndian.PutUint64(b[40:48], h.LeafDirsOffset)
	binary.LittleEndian.PutUint64(b[48:56], h.LeafDirsBytes)
	binary.LittleEndian.PutUint64(b[56:64], h.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:72], h.TileDataBytes)
	binary.LittleEndian.PutUint64(b[72:80], h.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:88], h.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:96], h.TileContentsCount)

	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom

	binary.LittleEndian.PutUint32(b[102:106], uint32(h.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:110], uint32(h.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:114], uint32(h.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:118], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	binary.LittleEndian.PutUint32(b[119:123], uint32(h.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:127], uint32(h.CenterLatE7))

	return b
}

// DeserializeHeader decodes the first HeaderLenBytes of d.
func DeserializeHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderLenBytes {
		return h, fmt.Errorf("pmtiles: buffer too small for header (%d bytes)", len(d))
	}
	if string(d[0:7]) != magic {
		return h, fmt.Errorf("pmtiles: bad magic %q", d[0:7])
	}

	h.SpecVersion = d[7]
	h.RootDirOffset = binary.LittleEndian.Uint64(d[8:16])
	h.RootDirBytes = binary.LittleEndian.Uint64(d[16:24])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24:32])
	h.MetadataBytes = binary.LittleEndian.Uint64(d[32:40])
	h.LeafDirsOffset = binary.LittleEndian.Uint64(d[40:48])
	h.LeafDirsBytes = binary.LittleEndian.Uint64(d[48:56])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56:64])
	h.TileDataBytes = binary.LittleEndian.Uint64(d[64:72])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72:80])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80:88])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88:96])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102:106]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106:110]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110:114]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114:118]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119:123]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123:127]))

	return h, nil
}
