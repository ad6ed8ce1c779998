package tiler

import (
	"bytes"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/pmtiles"
)

func sample() []*feature.Feature {
	return []*feature.Feature{
		{ID: "sol", Geometry: orb.Point{-3.7038, 40.4168}, Properties: map[string]any{"name": "Sol", "tags": []any{"a"}}},
		{ID: "route", Geometry: orb.LineString{{-3.71, 40.41}, {-3.69, 40.42}}},
		{ID: "mixed", Geometry: orb.Collection{orb.Point{-3.70, 40.415}, orb.LineString{{-3.70, 40.41}, {-3.70, 40.42}}}},
	}
}

func TestTile(t *testing.T) {
	tile := maptile.At(orb.Point{-3.7038, 40.4168}, 12)
	data, err := Tile("madrid", sample(), tile)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	layers, err := mvt.UnmarshalGzipped(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "madrid", layers[0].Name)
	assert.Len(t, layers[0].Features, 4)

	for _, f := range layers[0].Features {
		if f.Properties["name"] == "Sol" {
			assert.Equal(t, "[a]", f.Properties["tags"])
		}
	}
}

func TestTileDoesNotMutateFeatures(t *testing.T) {
	features := sample()
	_, err := Tile("madrid", features, maptile.At(orb.Point{-3.7038, 40.4168}, 10))
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-3.7038, 40.4168}, features[0].Geometry)
}

func TestTileEmpty(t *testing.T) {
	data, err := Tile("madrid", sample(), maptile.At(orb.Point{139.7, 35.7}, 12))
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = Tile("madrid", sample(), maptile.New(0, 0, MaxZoom+1))
	assert.ErrorIs(t, err, ErrZoomRange)
}

func TestExport(t *testing.T) {
	var buf bytes.Buffer
	n, err := Export(&buf, "madrid", sample(), 0, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	h, err := pmtiles.DeserializeHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(3), h.SpecVersion)
	assert.Equal(t, pmtiles.Mvt, h.TileType)
	assert.Equal(t, uint8(0), h.MinZoom)
	assert.Equal(t, uint8(6), h.MaxZoom)
	// Everything sits in one tile per zoom at these levels.
	assert.Equal(t, uint64(7), h.TileEntriesCount)
	assert.InDelta(t, -3.71, float64(h.MinLonE7)/1e7, 1e-6)
	assert.Equal(t, uint64(buf.Len()), h.TileDataOffset+h.TileDataLength)
}

func TestExportErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(&buf, "x", sample(), 3, 2)
	assert.ErrorIs(t, err, ErrZoomRange)
	_, err = Export(&buf, "x", sample(), 0, MaxExportZoom+1)
	assert.ErrorIs(t, err, ErrZoomRange)
	_, err = Export(&buf, "x", nil, 0, 2)
	assert.ErrorIs(t, err, ErrNoTiles)
}
