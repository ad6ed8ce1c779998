package feature

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nativeFixtures() []*geojson.Feature {
	pt := geojson.NewFeature(orb.Point{-3.7, 40.4})
	pt.ID = "madrid"
	pt.Properties["name"] = "Madrid"
	pt.Properties[KeyMarkerColor] = "#ff0000"

	line := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}, {2, 0}})
	line.Properties["name"] = "zigzag"
	line.Properties[KeyStroke] = "#00ff00"
	line.Properties[KeyStrokeWidth] = 3.0

	poly := geojson.NewFeature(orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}})
	poly.Properties["area"] = 16.0

	return []*geojson.Feature{pt, line, poly}
}

func TestFromNativeRoundTrip(t *testing.T) {
	natives := nativeFixtures()

	features, err := FromNative(natives)
	require.NoError(t, err)
	require.Len(t, features, 3)

	back := ToNative(features)
	require.Len(t, back, 3)
	for i := range natives {
		assert.Equal(t, natives[i].Geometry.GeoJSONType(), back[i].Geometry.GeoJSONType())
		assert.True(t, orb.Equal(natives[i].Geometry, back[i].Geometry), "geometry %d", i)
		assert.Equal(t, natives[i].Properties, back[i].Properties, "properties %d", i)
	}
}

func TestFromNativeStyle(t *testing.T) {
	features, err := FromNative(nativeFixtures())
	require.NoError(t, err)

	assert.Equal(t, "madrid", features[0].ID)
	require.NotNil(t, features[0].Style)
	assert.Equal(t, "#ff0000", features[0].Style.MarkerColor)

	require.NotNil(t, features[1].Style)
	assert.Equal(t, "#00ff00", features[1].Style.Stroke)
	assert.Equal(t, 3.0, features[1].Style.StrokeWidth)

	assert.Nil(t, features[2].Style)
	assert.Equal(t, "Polygon", features[2].GeometryType())
}

func TestFromNativeCollection(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for _, f := range nativeFixtures() {
		fc.Append(f)
	}
	features, err := FromNative(fc)
	require.NoError(t, err)
	assert.Len(t, features, 3)
}

func TestFromNativeRejectsNonList(t *testing.T) {
	for _, in := range []any{"a string", 42, nil, geojson.NewFeature(orb.Point{1, 2})} {
		_, err := FromNative(in)
		assert.ErrorIs(t, err, ErrNotFeatureList, "%T", in)
	}
	var fc *geojson.FeatureCollection
	_, err := FromNative(fc)
	assert.ErrorIs(t, err, ErrNotFeatureList)
}

func TestFromNativeSkipsEmptyGeometry(t *testing.T) {
	natives := append(nativeFixtures(), &geojson.Feature{Properties: geojson.Properties{}}, nil)
	features, err := FromNative(natives)
	require.NoError(t, err)
	assert.Len(t, features, 3)
}

func TestExtent(t *testing.T) {
	_, ok := Extent(nil)
	assert.False(t, ok)

	features, err := FromNative(nativeFixtures())
	require.NoError(t, err)

	b, ok := Extent(features)
	require.True(t, ok)
	assert.Equal(t, orb.Point{-3.7, 0}, b.Min)
	assert.Equal(t, orb.Point{4, 40.4}, b.Max)
}

func TestExtentIgnoresEmptyGeometries(t *testing.T) {
	b, ok := Extent([]*Feature{
		{Geometry: orb.LineString{}},
		{Geometry: orb.Point{10, 10}},
		{Geometry: orb.Polygon{}},
	})
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{10, 10}}, b)

	_, ok = Extent([]*Feature{{Geometry: orb.LineString{}}, {Geometry: orb.MultiPoint{}}})
	assert.False(t, ok)
}

func TestCollectionNumericID(t *testing.T) {
	nf := geojson.NewFeature(orb.Point{1, 2})
	nf.ID = float64(7)
	features, err := FromNative([]*geojson.Feature{nf})
	require.NoError(t, err)
	assert.Equal(t, "7", features[0].ID)

	fc := Collection(features)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "7", fc.Features[0].ID)
}
