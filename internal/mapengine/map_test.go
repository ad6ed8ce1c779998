package mapengine

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-addlayers/internal/feature"
)

func newMap(t *testing.T, projection string) *Map {
	t.Helper()
	m, err := New(Options{Projection: projection})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func waitLoaded(t *testing.T, l *Layer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-l.Loaded():
	case <-ctx.Done():
		t.Fatalf("layer %q never loaded", l.Name())
	}
}

func TestNewDefaults(t *testing.T) {
	m := newMap(t, "")
	assert.Equal(t, EPSG3857, m.Projection())
	w, h := m.Size()
	assert.Equal(t, DefaultWidth, w)
	assert.Equal(t, DefaultHeight, h)
	assert.Greater(t, m.View().Resolution, 0.0)
}

func TestNewUnknownProjection(t *testing.T) {
	_, err := New(Options{Projection: "EPSG:25830"})
	assert.ErrorIs(t, err, ErrUnknownProjection)
}

func TestAddGeoJSONLayer(t *testing.T) {
	m := newMap(t, EPSG3857)
	events := m.Bus().Subscribe()

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{0, 0}))
	fc.Append(geojson.NewFeature(orb.Point{1, 1}))
	fc.Append(&geojson.Feature{Type: "Feature"})

	l := NewGeoJSON("points", fc, LayerOptions{Origin: OriginLocal})
	require.NoError(t, m.AddLayers(l))
	waitLoaded(t, l)

	require.NoError(t, l.Err())
	assert.NotEmpty(t, l.ID())
	features := l.Features()
	require.Len(t, features, 2)

	// Reprojected into meters, source untouched.
	assert.InDelta(t, 111319.49, features[1].Geometry.(orb.Point).X(), 0.01)
	assert.Equal(t, orb.Point{1, 1}, fc.Features[1].Geometry)

	ev := <-events
	assert.Equal(t, Event{Resource: ResourceLayers, Action: ActionAdded, ID: l.ID()}, ev)

	got, ok := m.Layer(l.ID())
	require.True(t, ok)
	assert.Same(t, l, got)
}

func TestAddVectorLayer(t *testing.T) {
	m := newMap(t, EPSG4326)

	l := NewVector("vector", LayerOptions{Origin: OriginLocal, DisplayInLayerSwitcher: true})
	l.AddFeatures(
		&feature.Feature{Geometry: orb.Point{-1, -2}},
		&feature.Feature{Geometry: orb.Point{3, 4}},
	)
	require.NoError(t, m.AddLayers(l))
	waitLoaded(t, l)

	ext, ok := l.Extent()
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}}, ext)
	assert.Equal(t, KindVector, l.Kind())
	assert.True(t, l.Options().DisplayInLayerSwitcher)
}

func TestRemoveLayer(t *testing.T) {
	m := newMap(t, EPSG3857)
	l := NewVector("a", LayerOptions{})
	require.NoError(t, m.AddLayers(l))
	waitLoaded(t, l)

	require.NoError(t, m.RemoveLayer(l.ID()))
	assert.Empty(t, m.Layers())
	assert.ErrorIs(t, m.RemoveLayer(l.ID()), ErrLayerNotFound)
}

func TestFit(t *testing.T) {
	m := newMap(t, EPSG3857)

	v := m.Fit(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2048, 768}}, FitOptions{Duration: 500 * time.Millisecond, MinResolution: 1})
	assert.Equal(t, orb.Point{1024, 384}, v.Center)
	assert.Equal(t, 2.0, v.Resolution)
	assert.Equal(t, 500*time.Millisecond, v.Duration)
	assert.Equal(t, uint64(1), v.Revision)

	// A single point clamps to the minimum resolution.
	v = m.Fit(orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{5, 5}}, FitOptions{MinResolution: 1})
	assert.Equal(t, 1.0, v.Resolution)
	assert.Equal(t, uint64(2), v.Revision)
	assert.Equal(t, v, m.View())
}

func TestReprojectAndBack(t *testing.T) {
	m := newMap(t, EPSG900913)
	p := m.Reproject(orb.Point{-3.7, 40.4}).(orb.Point)
	b := m.ToWGS84(orb.Bound{Min: p, Max: p})
	assert.InDelta(t, -3.7, b.Min.X(), 1e-9)
	assert.InDelta(t, 40.4, b.Min.Y(), 1e-9)

	line := orb.LineString{{-3.7, 40.4}, {-3.6, 40.5}}
	back := m.Unproject(m.Reproject(line)).(orb.LineString)
	assert.InDelta(t, -3.6, back[1].X(), 1e-9)
	assert.InDelta(t, 40.5, back[1].Y(), 1e-9)
	assert.Equal(t, -3.7, line[0].X())

	geo := newMap(t, EPSG4326)
	assert.Equal(t, orb.Point{-3.7, 40.4}, geo.Reproject(orb.Point{-3.7, 40.4}))
}

func TestCloseRejectsLayers(t *testing.T) {
	m, err := New(Options{})
	require.NoError(t, err)
	m.Close()
	assert.ErrorIs(t, m.AddLayers(NewVector("late", LayerOptions{})), ErrClosed)
}
