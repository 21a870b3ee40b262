package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camtiles/internal/bvh"
	"camtiles/internal/camera"
	"camtiles/internal/corpus"
	"camtiles/internal/pmtiles"
	"camtiles/internal/tileid"
	"camtiles/internal/viewport"
)

// newTestPipeline builds a viewport.Pipeline over a full z=5 tile
// grid and a one-feature BVH, enough to exercise the HTTP/WS surface
// end to end. Requests in this test file use a low camera zoom (3) so
// SubsetZoom resolves to 5, matching the grid the archive actually
// has tiles at.
func newTestPipeline(t *testing.T) *viewport.Pipeline {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/httpapi-test.pmtiles"

	var tiles []pmtiles.Tile
	const z = 5
	dim := uint32(1) << z
	for x := uint32(0); x < dim; x++ {
		for y := uint32(0); y < dim; y++ {
			tiles = append(tiles, pmtiles.Tile{ZXY: tileid.ZXY{Z: z, X: x, Y: y}, Payload: []byte("x")})
		}
	}
	require.NoError(t, pmtiles.Write(path, tiles, nil, pmtiles.WriteOptions{TileType: pmtiles.MVT}))

	reader, err := pmtiles.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	c, err := corpus.Build([][]corpus.Vertex{{{X: 0, Y: 0}, {X: 1, Y: 1}}})
	require.NoError(t, err)
	tree, err := bvh.Build(c, 1)
	require.NoError(t, err)

	return &viewport.Pipeline{Tree: tree, Tiles: reader, Camera: &camera.Store{}, DefaultMaxTiles: 16, ScratchDir: dir}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(newTestPipeline(t), &camera.Store{}, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCameraStateGetReturns404BeforeAnyPublish(t *testing.T) {
	store := &camera.Store{}
	s := NewServer(newTestPipeline(t), store, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/camera-state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCameraStatePostBuildsSubsetEnvelope(t *testing.T) {
	store := &camera.Store{}
	s := NewServer(newTestPipeline(t), store, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	body := strings.NewReader(`{"bounds":{"west":-1,"south":-1,"east":1,"north":1},"metersPerPixel":4.77,"zoom":3,"mode":"THREE_D"}`)
	resp, err := http.Post(srv.URL+"/api/camera-state", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var env subsetResponseEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "ok", env.Status)
	assert.Equal(t, camera.ThreeD, env.Mode)
	require.NotNil(t, env.PMTilesSubset)
	assert.Equal(t, "base64", env.PMTilesSubset.Encoding)
	assert.NotEmpty(t, env.PMTilesSubset.Data)

	state, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, 3.0, state.Zoom)
	assert.Equal(t, camera.ThreeD, state.Mode)
}

func TestCameraStatePostWithInvalidJSONReturns400(t *testing.T) {
	s := NewServer(newTestPipeline(t), &camera.Store{}, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/camera-state", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env errorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "error", env.Status)
	assert.NotEmpty(t, env.Message)
}

func TestCameraStateOptionsReturnsNoContentWithCORSHeaders(t *testing.T) {
	s := NewServer(newTestPipeline(t), &camera.Store{}, []string{"https://example.com"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/camera-state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketSubsetRoundTrip(t *testing.T) {
	store := &camera.Store{}
	s := NewServer(newTestPipeline(t), store, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/camera"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := map[string]interface{}{
		"bounds": map[string]float64{"west": -1, "south": -1, "east": 1, "north": 1},
		"zoom":   3,
	}
	require.NoError(t, conn.WriteJSON(req))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var env subsetResponseEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotNil(t, env.PMTilesSubset)
	assert.Equal(t, "base64", env.PMTilesSubset.Encoding)
	assert.NotEmpty(t, env.PMTilesSubset.Data)

	state, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, 3.0, state.Zoom)
}

func TestWebSocketBinaryFollowsWhenNegotiated(t *testing.T) {
	s := NewServer(newTestPipeline(t), &camera.Store{}, []string{"*"})
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/camera"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := map[string]interface{}{
		"bounds":       map[string]float64{"west": -1, "south": -1, "east": 1, "north": 1},
		"zoom":         3,
		"acceptBinary": true,
	}
	require.NoError(t, conn.WriteJSON(req))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env subsetResponseEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotNil(t, env.PMTilesSubset)
	assert.Equal(t, "binary", env.PMTilesSubset.Encoding)
	assert.Empty(t, env.PMTilesSubset.Data)

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.NotEmpty(t, data)
}
