package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	m, err := mapengine.New(mapengine.Options{Projection: mapengine.EPSG3857})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return New(m)
}

const pointsGeoJSON = `{"type":"FeatureCollection","features":[
  {"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[0,0]}},
  {"type":"Feature","properties":{"name":"b"},"geometry":{"type":"Point","coordinates":[2,1]}}
]}`

func TestLoadGeoJSONLayer(t *testing.T) {
	a := newAdapter(t)

	features, err := a.LoadGeoJSONLayer(context.Background(), "points", pointsGeoJSON)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "b", features[1].Properties["name"])

	layers := a.Map().Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, "points", layers[0].Name())
	assert.Equal(t, mapengine.KindGeoJSON, layers[0].Kind())
	assert.Equal(t, mapengine.OriginLocal, layers[0].Options().Origin)
}

func TestLoadGeoJSONLayerEmpty(t *testing.T) {
	a := newAdapter(t)

	features, err := a.LoadGeoJSONLayer(context.Background(), "empty", geojson.NewFeatureCollection())
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestLoadGeoJSONLayerCancelled(t *testing.T) {
	a := newAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the layer loaded first or the cancellation won; both are valid
	// outcomes, but a cancelled wait must surface ctx.Err.
	_, err := a.LoadGeoJSONLayer(ctx, "points", pointsGeoJSON)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestLoadGeoJSONLayerBadSource(t *testing.T) {
	a := newAdapter(t)
	_, err := a.LoadGeoJSONLayer(context.Background(), "bad", "{")
	require.Error(t, err)
	assert.Empty(t, a.Map().Layers())
}

func TestLoadKMLLayer(t *testing.T) {
	a := newAdapter(t)
	src := []byte(`<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
  <Style id="red"><LineStyle><color>ff0000ff</color><width>2</width></LineStyle></Style>
  <Placemark><name>road</name><styleUrl>#red</styleUrl>
    <LineString><coordinates>0,0 1,1</coordinates></LineString></Placemark>
</Document></kml>`)

	features, err := a.LoadKMLLayer("roads", src, true)
	require.NoError(t, err)
	require.Len(t, features, 1)
	require.NotNil(t, features[0].Style)
	assert.Equal(t, "#ff0000", features[0].Style.Stroke)

	// Stored in map projection.
	ls := features[0].Geometry.(orb.LineString)
	assert.InDelta(t, 111319.49, ls[1].X(), 0.01)

	plain, err := a.LoadKMLLayer("roads", src, false)
	require.NoError(t, err)
	assert.Nil(t, plain[0].Style)
	assert.Len(t, a.Map().Layers(), 2)
}

func TestLoadGPXLayer(t *testing.T) {
	a := newAdapter(t)
	src := []byte(`<?xml version="1.0"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="40.4" lon="-3.7"><name>Madrid</name></wpt>
  <trk><name>walk</name><trkseg>
    <trkpt lat="40.0" lon="-3.0"></trkpt><trkpt lat="40.1" lon="-3.1"></trkpt>
  </trkseg></trk>
</gpx>`)

	features, err := a.LoadGPXLayer(context.Background(), "walk", src)
	require.NoError(t, err)
	assert.Len(t, features, 2)

	layers := a.Map().Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, mapengine.KindVector, layers[0].Kind())
	assert.True(t, layers[0].Options().DisplayInLayerSwitcher)
}

func TestCenterFeatures(t *testing.T) {
	a := newAdapter(t)

	_, ok := a.CenterFeatures(nil)
	assert.False(t, ok)
	_, ok = a.CenterFeatures([]*feature.Feature{{Geometry: orb.LineString{}}})
	assert.False(t, ok)
	assert.Zero(t, a.Map().View().Revision)

	v, ok := a.CenterFeatures([]*feature.Feature{
		{Geometry: orb.Point{0, 0}},
		{Geometry: orb.Point{10, 10}},
	})
	require.True(t, ok)
	assert.Equal(t, orb.Point{5, 5}, v.Center)
	assert.Equal(t, 500*time.Millisecond, v.Duration)
	assert.Equal(t, 1.0, v.Resolution)
}

func TestRemoveLayers(t *testing.T) {
	a := newAdapter(t)
	keep, err := a.CreateLayer("keep", nil)
	require.NoError(t, err)
	before := a.LayerIDs()

	_, err = a.LoadGeoJSONLayer(context.Background(), "part", pointsGeoJSON)
	require.NoError(t, err)
	ids := a.LayerIDs()
	require.Len(t, ids, 2)
	assert.Equal(t, before, ids[:1])

	a.RemoveLayers(ids[1], "missing")
	assert.Equal(t, []string{keep.ID()}, a.LayerIDs())
}

func TestConvertToFeaturesRejectsNonList(t *testing.T) {
	a := newAdapter(t)
	_, err := a.ConvertToFeatures("not features")
	assert.ErrorIs(t, err, feature.ErrNotFeatureList)
}
