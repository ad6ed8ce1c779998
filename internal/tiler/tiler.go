// Package tiler encodes local layers as Mapbox Vector Tiles and PMTiles
// archives.
//
// Features are expected in WGS84. Geometries are cloned before clipping and
// projection, which mutate in place.
package tiler

import (
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/pmtiles"
)

const (
	// MaxZoom is the deepest zoom a tile may be requested at.
	MaxZoom = 22
	// MaxExportZoom bounds archive exports.
	MaxExportZoom = 14
)

var (
	ErrZoomRange = errors.New("invalid zoom range")
	ErrNoTiles   = errors.New("no tiles")
)

// Tile encodes the features intersecting t as a gzipped MVT with a single
// layer called name. It returns nil when the tile is empty.
func Tile(name string, features []*feature.Feature, t maptile.Tile) ([]byte, error) {
	if t.Z > MaxZoom {
		return nil, fmt.Errorf("%w: z=%d", ErrZoomRange, t.Z)
	}
	bound := t.Bound()
	var natives []*geojson.Feature
	for _, f := range features {
		if f.Geometry == nil || !intersects(f.Geometry, bound) {
			continue
		}
		natives = append(natives, native(f)...)
	}
	return encode(name, natives, t)
}

// Export writes every non-empty tile of the zoom range as a PMTiles
// archive.
func Export(w io.Writer, name string, features []*feature.Feature, minZoom, maxZoom int) (int64, error) {
	if minZoom < 0 || maxZoom > MaxExportZoom || minZoom > maxZoom {
		return 0, fmt.Errorf("%w: %d-%d", ErrZoomRange, minZoom, maxZoom)
	}
	extent, ok := feature.Extent(features)
	if !ok {
		return 0, ErrNoTiles
	}

	var tiles []pmtiles.Tile
	for z := minZoom; z <= maxZoom; z++ {
		byTile := make(map[maptile.Tile][]*geojson.Feature)
		for _, f := range features {
			if f.Geometry == nil {
				continue
			}
			for _, t := range tilesIn(f.Geometry.Bound(), maptile.Zoom(z)) {
				if intersects(f.Geometry, t.Bound()) {
					byTile[t] = append(byTile[t], native(f)...)
				}
			}
		}
		for t, natives := range byTile {
			data, err := encode(name, natives, t)
			if err != nil {
				return 0, err
			}
			if data != nil {
				tiles = append(tiles, pmtiles.Tile{Z: uint8(t.Z), X: t.X, Y: t.Y, Data: data})
			}
		}
	}
	if len(tiles) == 0 {
		return 0, ErrNoTiles
	}

	return pmtiles.Write(w, pmtiles.Archive{
		Name:    name,
		MinZoom: uint8(minZoom),
		MaxZoom: uint8(maxZoom),
		Bounds:  [4]float64{extent.Min[0], extent.Min[1], extent.Max[0], extent.Max[1]},
		Tiles:   tiles,
	})
}

// native converts f to GeoJSON features with cloned geometries and
// properties MVT can encode. Collections are split into their members.
func native(f *feature.Feature) []*geojson.Feature {
	nf := feature.ToNative([]*feature.Feature{f})[0]
	// MVT ids are integers; string ids travel as a property.
	nf.ID = nil
	if _, ok := nf.Properties["id"]; !ok && f.ID != "" {
		nf.Properties["id"] = f.ID
	}
	for k, v := range nf.Properties {
		switch v.(type) {
		case string, bool, float64, float32, int, int64, uint64:
		case nil:
			delete(nf.Properties, k)
		default:
			nf.Properties[k] = fmt.Sprint(v)
		}
	}

	c, ok := f.Geometry.(orb.Collection)
	if !ok {
		nf.Geometry = orb.Clone(f.Geometry)
		return []*geojson.Feature{nf}
	}
	var out []*geojson.Feature
	for _, g := range c {
		member := geojson.NewFeature(orb.Clone(g))
		maps.Copy(member.Properties, nf.Properties)
		out = append(out, member)
	}
	return out
}

func encode(name string, natives []*geojson.Feature, t maptile.Tile) ([]byte, error) {
	if len(natives) == 0 {
		return nil, nil
	}
	fc := geojson.NewFeatureCollection()
	fc.Features = natives
	layer := mvt.NewLayer(name, fc)

	if eps := simplifyEpsilon(t.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(t.Bound())
	layer.ProjectToTile(t)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(mvt.Layers{layer})
}

// intersects is a tighter test than bound overlap for points and polygons.
func intersects(g orb.Geometry, tb orb.Bound) bool {
	if !g.Bound().Intersects(tb) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return tb.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tb.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tb.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{tb.Min, {tb.Max[0], tb.Min[1]}, tb.Max, {tb.Min[0], tb.Max[1]}, tb.Center()}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, tb) {
				return true
			}
		}
		return false
	case orb.Collection:
		for _, c := range g {
			if intersects(c, tb) {
				return true
			}
		}
		return false
	default:
		// Lines crossing the tile without a vertex inside it are kept.
		return true
	}
}

// tilesIn returns the tiles at zoom covering b.
func tilesIn(b orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	lo := maptile.At(b.Min, zoom)
	hi := maptile.At(b.Max, zoom)
	minX, maxX := min(lo.X, hi.X), max(lo.X, hi.X)
	minY, maxY := min(lo.Y, hi.Y), max(lo.Y, hi.Y)

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// simplifyEpsilon is the Douglas-Peucker tolerance, in degrees, at zoom.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 14:
		return 0
	case zoom >= 10:
		return 0.00001
	case zoom >= 6:
		return 0.0001
	case zoom >= 4:
		return 0.0005
	default:
		return 0.001
	}
}
