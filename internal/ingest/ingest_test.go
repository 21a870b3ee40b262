package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareFeatureCollection = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "properties": {}, "geometry":
			{"type": "Polygon", "coordinates": [[[0,0],[0,1],[1,1],[1,0],[0,0]]]}},
		{"type": "Feature", "properties": {}, "geometry":
			{"type": "Point", "coordinates": [10, 20]}}
	]
}`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadGeoJSONProducesOneRecordPerFeature(t *testing.T) {
	path := writeFixture(t, "squares.geojson", squareFeatureCollection)

	records, err := Source{Kind: GeoJSON, Path: path}.Read()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Len(t, records[0], 4) // polygon ring: 4 distinct corners, closing point dropped
	assert.Len(t, records[1], 1) // point
}

func TestReadGeoJSONReprojectsToMercator(t *testing.T) {
	path := writeFixture(t, "origin.geojson", `{
		"type": "FeatureCollection",
		"features": [{"type": "Feature", "properties": {}, "geometry":
			{"type": "Point", "coordinates": [0, 0]}}]
	}`)

	records, err := Source{Kind: GeoJSON, Path: path}.Read()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0], 1)

	// (0,0) in WGS84 is also the Mercator origin.
	assert.InDelta(t, 0, records[0][0].X, 1e-6)
	assert.InDelta(t, 0, records[0][0].Y, 1e-6)
}

func TestRunMergesMultipleSourcesIntoOneCorpus(t *testing.T) {
	pathA := writeFixture(t, "a.geojson", squareFeatureCollection)
	pathB := writeFixture(t, "b.geojson", `{
		"type": "FeatureCollection",
		"features": [{"type": "Feature", "properties": {}, "geometry":
			{"type": "Point", "coordinates": [5, 5]}}]
	}`)

	c, err := Run(context.Background(), []Source{
		{Kind: GeoJSON, Path: pathA},
		{Kind: GeoJSON, Path: pathB},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.RecordCount)
}

func TestRunSkipsUnknownSourceKind(t *testing.T) {
	c, err := Run(context.Background(), []Source{{Kind: "shapefile", Path: "whatever"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), c.RecordCount)
}

func TestRunSkipsUnreadableSourceButKeepsOthers(t *testing.T) {
	pathA := writeFixture(t, "a.geojson", squareFeatureCollection)

	c, err := Run(context.Background(), []Source{
		{Kind: GeoJSON, Path: pathA},
		{Kind: GeoJSON, Path: filepath.Join(t.TempDir(), "missing.geojson")},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.RecordCount)
}
