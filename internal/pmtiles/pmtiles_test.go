package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camtiles/internal/tileid"
)

func TestHeaderRoundTrip(t *testing.T) {
	hdr := Header{
		SpecVersion:         3,
		RootDirOffset:       127,
		RootDirBytes:        42,
		MetadataOffset:      9001,
		MetadataBytes:       17,
		LeafDirsOffset:      169,
		LeafDirsBytes:       0,
		TileDataOffset:      211,
		TileDataBytes:       8790,
		AddressedTilesCount: 12,
		TileEntriesCount:    12,
		TileContentsCount:   10,
		Clustered:           true,
		InternalCompression: NoCompression,
		TileCompression:     Gzip,
		TileType:            MVT,
		MinZoom:              3,
		MaxZoom:              9,
		MinLonE7:             -1223456789,
		MinLatE7:             377749000,
		MaxLonE7:             -1220000000,
		MaxLatE7:             378000000,
		CenterZoom:           6,
		CenterLonE7:          -1221000000,
		CenterLatE7:          377800000,
	}

	b := hdr.Serialize()
	require.Len(t, b, HeaderLenBytes)

	got, err := DeserializeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, hdr, got)
}

func TestEntriesRoundTripWithContiguousOffsets(t *testing.T) {
	entries := []Entry{
		{TileID: 5, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 6, Offset: 100, Length: 50, RunLength: 1},  // contiguous with prior
		{TileID: 9, Offset: 500, Length: 10, RunLength: 3},  // non-contiguous, run of 3
	}

	encoded := SerializeEntries(entries)
	got, err := DeserializeEntries(encoded)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestMinimalArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/minimal.pmtiles"

	tiles := []Tile{
		{ZXY: tileid.ZXY{Z: 0, X: 0, Y: 0}, Payload: []byte("root-tile")},
	}
	metadata := []byte(`{"name":"minimal"}`)

	err := Write(path, tiles, metadata, WriteOptions{TileCompression: NoCompression, TileType: MVT})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(1), r.Header.AddressedTilesCount)
	assert.Equal(t, MVT, r.Header.TileType)
	assert.Equal(t, metadata, r.Metadata())

	id, err := tileid.ToID(tileid.ZXY{Z: 0, X: 0, Y: 0})
	require.NoError(t, err)

	data, ok, err := r.Lookup(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "root-tile", string(data))

	_, ok, err = r.Lookup(id + 999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveWithManyTilesSortedAndSplitAcrossLeaves(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/grid.pmtiles"

	var tiles []Tile
	const z = 6
	dim := uint32(1) << z
	for x := uint32(0); x < dim; x++ {
		for y := uint32(0); y < dim; y++ {
			tiles = append(tiles, Tile{
				ZXY:     tileid.ZXY{Z: z, X: x, Y: y},
				Payload: []byte{byte(x), byte(y)},
			})
		}
	}

	err := Write(path, tiles, nil, WriteOptions{TileCompression: NoCompression, TileType: MVT})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(len(tiles)), r.Header.AddressedTilesCount)

	for _, want := range []tileid.ZXY{{Z: z, X: 0, Y: 0}, {Z: z, X: dim - 1, Y: dim - 1}, {Z: z, X: 10, Y: 52}} {
		id, err := tileid.ToID(want)
		require.NoError(t, err)
		data, ok, err := r.Lookup(id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(want.X), byte(want.Y)}, data)
	}
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	_, err := Open("/nonexistent/path/does-not-exist.pmtiles")
	assert.Error(t, err)
}
