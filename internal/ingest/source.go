// Package ingest turns source geodata files into the corpus.Corpus
// the BVH is built over. Two source kinds are understood: GeoJSON
// (paulmach/orb/geojson) and SpatiaLite (database/sql +
// go-sqlite3), with geometry columns decoded through
// paulmach/orb/encoding/wkb rather than go-spatialite/wkb so every
// geometry type — not just points — flows through one geometry
// library.
package ingest

import (
	"database/sql"
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/shaxbee/go-spatialite"

	"camtiles/internal/corpus"
)

// Kind names which reader a Source is loaded with.
type Kind string

const (
	GeoJSON    Kind = "geojson"
	SpatiaLite Kind = "spatialite"
)

// Source names one input file and how to read it.
type Source struct {
	Kind Kind
	Path string

	// Table/GeomColumn are only used for Kind == SpatiaLite.
	Table      string
	GeomColumn string
}

// Read loads s and returns one vertex slice per feature, reprojected
// from WGS84 lon/lat degrees to Web-Mercator meters so every record
// in the corpus shares the planar CRS the BVH and viewport pipeline
// operate in.
func (s Source) Read() ([][]corpus.Vertex, error) {
	var raw []orb.Geometry
	var err error

	switch s.Kind {
	case GeoJSON:
		raw, err = readGeoJSON(s.Path)
	case SpatiaLite:
		raw, err = readSpatiaLite(s.Path, s.Table, s.GeomColumn)
	default:
		return nil, fmt.Errorf("ingest: unknown source kind %q for %s", s.Kind, s.Path)
	}
	if err != nil {
		return nil, err
	}

	records := make([][]corpus.Vertex, 0, len(raw))
	for _, g := range raw {
		verts := reprojectVertices(verticesFromGeometry(g))
		if len(verts) > 0 {
			records = append(records, verts)
		}
	}
	return records, nil
}

func readGeoJSON(path string) ([]orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: reading %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		f, ferr := geojson.UnmarshalFeature(data)
		if ferr != nil {
			return nil, fmt.Errorf("ingest: unmarshalling %s: %w", path, err)
		}
		return []orb.Geometry{f.Geometry}, nil
	}

	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return geoms, nil
}

func readSpatiaLite(path, table, geomColumn string) ([]orb.Geometry, error) {
	db, err := sql.Open("spatialite", path)
	if err != nil {
		return nil, fmt.Errorf("ingest: opening %s: %w", path, err)
	}
	defer db.Close()

	query := fmt.Sprintf("SELECT AsBinary(%s) FROM %s", geomColumn, table)
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("ingest: querying %s: %w", path, err)
	}
	defer rows.Close()

	var geoms []orb.Geometry
	for rows.Next() {
		scanner := wkb.Scanner(nil)
		if err := rows.Scan(scanner); err != nil {
			return nil, fmt.Errorf("ingest: scanning geometry from %s: %w", path, err)
		}
		if scanner.Valid {
			geoms = append(geoms, scanner.Geometry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingest: reading rows from %s: %w", path, err)
	}
	return geoms, nil
}

// verticesFromGeometry flattens every coordinate in g, depth-first,
// into a single vertex list. Ring/part boundaries are not preserved —
// the BVH only needs a feature's extent, and the viewport pipeline
// only needs its vertex data for whatever the eventual renderer does
// with it, so one flat list per feature keeps corpus.Corpus's record
// shape simple.
func verticesFromGeometry(g orb.Geometry) []corpus.Vertex {
	switch g := g.(type) {
	case orb.Point:
		return []corpus.Vertex{{X: g[0], Y: g[1]}}
	case orb.MultiPoint:
		return pointsToVertices(g)
	case orb.LineString:
		return pointsToVertices(orb.MultiPoint(g))
	case orb.MultiLineString:
		var out []corpus.Vertex
		for _, ls := range g {
			out = append(out, pointsToVertices(orb.MultiPoint(ls))...)
		}
		return out
	case orb.Ring:
		return ringToVertices(g)
	case orb.Polygon:
		var out []corpus.Vertex
		for _, ring := range g {
			out = append(out, ringToVertices(ring)...)
		}
		return out
	case orb.MultiPolygon:
		var out []corpus.Vertex
		for _, poly := range g {
			for _, ring := range poly {
				out = append(out, ringToVertices(ring)...)
			}
		}
		return out
	case orb.Collection:
		var out []corpus.Vertex
		for _, child := range g {
			out = append(out, verticesFromGeometry(child)...)
		}
		return out
	default:
		return nil
	}
}

// ringToVertices flattens ring, dropping its closing duplicate vertex
// (the point that repeats ring[0]) so each corner is represented once.
func ringToVertices(ring orb.Ring) []corpus.Vertex {
	pts := orb.MultiPoint(ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pointsToVertices(pts)
}

func pointsToVertices(pts orb.MultiPoint) []corpus.Vertex {
	out := make([]corpus.Vertex, len(pts))
	for i, p := range pts {
		out[i] = corpus.Vertex{X: p[0], Y: p[1]}
	}
	return out
}

// reprojectVertices projects verts to Web-Mercator meters, skipping any
// vertex whose projected coordinates are not finite.
func reprojectVertices(verts []corpus.Vertex) []corpus.Vertex {
	out := make([]corpus.Vertex, 0, len(verts))
	for _, v := range verts {
		m := project.WGS84.ToMercator(orb.Point{v.X, v.Y})
		if math.IsNaN(m[0]) || math.IsInf(m[0], 0) || math.IsNaN(m[1]) || math.IsInf(m[1], 0) {
			continue
		}
		out = append(out, corpus.Vertex{X: m[0], Y: m[1]})
	}
	return out
}
