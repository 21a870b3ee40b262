// Package viewport runs the per-request pipeline: a client's
// geographic bounds and camera pose come in, a small PMTiles-family
// subset archive covering that view comes out, sized by how far the
// camera has zoomed in.
package viewport

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"camtiles/internal/aabb"
	"camtiles/internal/bvh"
	"camtiles/internal/camera"
	"camtiles/internal/pmtiles"
	"camtiles/internal/tileid"
)

// maxMercatorLat is the Web-Mercator projection's valid latitude
// bound; requests outside it are clamped rather than rejected, since
// a client dragging the camera past the poles is a normal UI event,
// not an error.
const maxMercatorLat = 85.05112878

// Request is one viewport update from a client: geographic bounds in
// degrees, the client's resolution and zoom, and its rendering mode.
type Request struct {
	West, South, East, North float64
	MetersPerPixel           float64
	Zoom                     float64
	Mode                     camera.Mode
	MaxTiles                 int
}

// Response is everything the caller needs to hand back to the client:
// the computed viewport parameters plus the assembled archive bytes.
type Response struct {
	Mode                camera.Mode
	ViewBounds          aabb.Box
	VisibleFeatureCount int
	DetailEnabled       bool
	DetailFactor        float64
	SubsetZoom          uint8
	TileCount           int
	TruncatedTileCount  bool
	Archive             []byte
}

// Pipeline wires together the spatial index, the archive reader tiles
// are read from, and the camera-state store requests publish into.
type Pipeline struct {
	Tree   *bvh.Tree
	Tiles  *pmtiles.Reader
	Camera *camera.Store

	// DefaultMaxTiles bounds the fetch loop when Request.MaxTiles is
	// unset (<=0).
	DefaultMaxTiles int

	// ScratchDir holds the temporary subset archive file while it is
	// assembled; empty uses the OS default temp directory.
	ScratchDir string
}

// Build runs the full pipeline for one request.
func (p *Pipeline) Build(req Request) (*Response, error) {
	lo, hi := clampBounds(req.West, req.South, req.East, req.North)

	planar, err := mercatorBox(lo, hi)
	if err != nil {
		return nil, fmt.Errorf("viewport: %w", err)
	}

	mode := req.Mode
	if mode == "" {
		mode = camera.TwoD
	}

	p.Camera.Publish(camera.State{
		Bounds:         planar,
		MetersPerPixel: req.MetersPerPixel,
		Zoom:           req.Zoom,
		Mode:           mode,
		UpdatedAt:      time.Now(),
	})

	factor := DetailFactor(req.Zoom)
	detailEnabled := factor > 0
	var visible int
	if detailEnabled {
		visible = len(p.Tree.CollectVisible(planar))
	}

	subsetZoom := SubsetZoom(req.Zoom)
	rect := NewTileRectangle(lo, hi, subsetZoom)

	maxFetch := TileFetchCap(factor)
	limit := req.MaxTiles
	if limit <= 0 {
		limit = p.DefaultMaxTiles
	}
	if limit > 0 && limit < maxFetch {
		maxFetch = limit
	}

	tiles, truncated, err := p.fetchTiles(rect, subsetZoom, maxFetch)
	if err != nil {
		return nil, fmt.Errorf("viewport: %w", err)
	}

	archive, err := p.assembleSubset(tiles)
	if err != nil {
		return nil, fmt.Errorf("viewport: %w", err)
	}

	return &Response{
		Mode:                mode,
		ViewBounds:          planar,
		VisibleFeatureCount: visible,
		DetailEnabled:       detailEnabled,
		DetailFactor:        factor,
		SubsetZoom:          subsetZoom,
		TileCount:           len(tiles),
		TruncatedTileCount:  truncated,
		Archive:             archive,
	}, nil
}

// clampBounds canonicalizes west<=east and south<=north, then clamps
// south/north to the Web-Mercator valid latitude range.
func clampBounds(west, south, east, north float64) (lo, hi orb.Point) {
	if west > east {
		west, east = east, west
	}
	if south > north {
		south, north = north, south
	}
	clampLat := func(v float64) float64 {
		return math.Max(-maxMercatorLat, math.Min(maxMercatorLat, v))
	}
	return orb.Point{west, clampLat(south)}, orb.Point{east, clampLat(north)}
}

func mercatorBox(lo, hi orb.Point) (aabb.Box, error) {
	a := project.WGS84.ToMercator(lo)
	b := project.WGS84.ToMercator(hi)
	return aabb.Box{
		MinX: math.Min(a[0], b[0]),
		MinY: math.Min(a[1], b[1]),
		MaxX: math.Max(a[0], b[0]),
		MaxY: math.Max(a[1], b[1]),
	}, nil
}

// DetailFactor maps a camera zoom level to [0,1]: below zoom 9 a
// request gets the coarsest detail, above zoom 15 the finest, linear
// in between.
func DetailFactor(zoom float64) float64 {
	f := (zoom - 9) / 6
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// SubsetZoom picks the tile zoom level a subset archive is built at:
// two levels deeper than the camera's own zoom, bounded to a sane
// serving range.
func SubsetZoom(cameraZoom float64) uint8 {
	z := math.Round(cameraZoom + 2)
	if z < 5 {
		z = 5
	}
	if z > 15 {
		z = 15
	}
	return uint8(z)
}

// TileFetchCap bounds how many tiles one subset archive may contain,
// scaling with DetailFactor so a zoomed-out camera (low detail) gets a
// thin archive and a zoomed-in camera gets up to a full 256-tile page.
func TileFetchCap(factor float64) int {
	n := int(math.Round(factor * 256))
	if n < 1 {
		n = 1
	}
	return n
}

// TileRectangle is an inclusive range of tile columns/rows at one
// zoom level.
type TileRectangle struct {
	Zoom       uint8
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// NewTileRectangle computes the tile range covering [lo,hi] at zoom,
// under the standard spherical Web-Mercator XYZ tiling scheme.
func NewTileRectangle(lo, hi orb.Point, zoom uint8) TileRectangle {
	dim := uint32(1) << zoom
	x0, y0 := lonLatToTile(lo[0], hi[1], zoom) // lo.lon, hi.lat == north-west
	x1, y1 := lonLatToTile(hi[0], lo[1], zoom) // hi.lon, lo.lat == south-east

	clamp := func(v uint32) uint32 {
		if dim == 0 {
			return 0
		}
		if v >= dim {
			return dim - 1
		}
		return v
	}
	rect := TileRectangle{Zoom: zoom}
	rect.MinX, rect.MaxX = clamp(x0), clamp(x1)
	rect.MinY, rect.MaxY = clamp(y0), clamp(y1)
	if rect.MinX > rect.MaxX {
		rect.MinX, rect.MaxX = rect.MaxX, rect.MinX
	}
	if rect.MinY > rect.MaxY {
		rect.MinY, rect.MaxY = rect.MaxY, rect.MinY
	}
	return rect
}

func lonLatToTile(lon, lat float64, zoom uint8) (x, y uint32) {
	dim := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180

	fx := (lon + 180) / 360 * dim
	fy := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * dim

	fx = math.Max(0, math.Min(dim-1, math.Floor(fx)))
	fy = math.Max(0, math.Min(dim-1, math.Floor(fy)))
	return uint32(fx), uint32(fy)
}

// fetchTiles walks rect column by column (x-major, y-minor, matching
// the order tiles are collected for truncation purposes), looking up
// each tile id in the archive reader, stopping once maxFetch payloads
// have been collected. Absent tiles (no coverage at that coordinate)
// are skipped, not treated as an error.
func (p *Pipeline) fetchTiles(rect TileRectangle, zoom uint8, maxFetch int) (tiles []pmtiles.Tile, truncated bool, err error) {
	for x := rect.MinX; x <= rect.MaxX; x++ {
		for y := rect.MinY; y <= rect.MaxY; y++ {
			if len(tiles) >= maxFetch {
				return tiles, true, nil
			}
			key := tileid.ZXY{Z: zoom, X: x, Y: y}
			id, err := tileid.ToID(key)
			if err != nil {
				return nil, false, err
			}
			data, ok, err := p.Tiles.Lookup(id)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				continue
			}
			payload := make([]byte, len(data))
			copy(payload, data)
			tiles = append(tiles, pmtiles.Tile{ZXY: key, Payload: payload})
		}
	}
	return tiles, false, nil
}

// assembleSubset writes tiles into a fresh PMTiles-family archive and
// returns its bytes. A scratch file is used because the writer
// streams to a path; it is removed before returning.
func (p *Pipeline) assembleSubset(tiles []pmtiles.Tile) ([]byte, error) {
	f, err := os.CreateTemp(p.ScratchDir, "camtiles-subset-*.pmtiles")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	metadata := p.Tiles.Metadata()
	opts := pmtiles.WriteOptions{
		TileCompression: p.Tiles.Header.TileCompression,
		TileType:        p.Tiles.Header.TileType,
	}
	if err := pmtiles.Write(path, tiles, metadata, opts); err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}
