// Package adapter bridges parsed local files to the map engine: it builds
// layers from parser output, adds them to the map and fits the viewport.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/format"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
)

// Viewport fit parameters used when centering on imported features.
const (
	CenterDuration      = 500 * time.Millisecond
	CenterMinResolution = 1
)

// Adapter loads local layers into a map.
type Adapter struct {
	m *mapengine.Map
}

// New creates an adapter for m.
func New(m *mapengine.Map) *Adapter {
	return &Adapter{m: m}
}

// Map returns the map the adapter writes to.
func (a *Adapter) Map() *mapengine.Map { return a.m }

// LoadGeoJSONLayer adds a GeoJSON layer built from source and waits until
// the map has loaded it. See format.ParseGeoJSON for accepted sources.
func (a *Adapter) LoadGeoJSONLayer(ctx context.Context, name string, source any) ([]*feature.Feature, error) {
	fc, err := format.ParseGeoJSON(source)
	if err != nil {
		return nil, err
	}

	layer := mapengine.NewGeoJSON(name, fc, mapengine.LayerOptions{
		Origin:                 mapengine.OriginLocal,
		DisplayInLayerSwitcher: true,
	})
	if err := a.m.AddLayers(layer); err != nil {
		return nil, err
	}
	if err := awaitLoaded(ctx, layer); err != nil {
		return nil, err
	}

	features := layer.Features()
	log.Debug().Str("layer", name).Str("format", string(format.GeoJSON)).Int("features", len(features)).Msg("Layer loaded")
	return features, nil
}

// LoadKMLLayer parses KML text and adds the resulting vector layer. Styles
// are kept only when extractStyles is set.
func (a *Adapter) LoadKMLLayer(name string, source []byte, extractStyles bool) ([]*feature.Feature, error) {
	natives, err := format.ParseKML(source, format.KMLOptions{ExtractStyles: extractStyles})
	if err != nil {
		return nil, err
	}
	features, err := a.ConvertToFeatures(a.reproject(natives))
	if err != nil {
		return nil, err
	}
	if _, err := a.CreateLayer(name, features); err != nil {
		return nil, err
	}
	log.Debug().Str("layer", name).Str("format", string(format.KML)).Int("features", len(features)).Msg("Layer loaded")
	return features, nil
}

// LoadGPXLayer parses GPX text, adds a vector layer and waits until the map
// has loaded it.
func (a *Adapter) LoadGPXLayer(ctx context.Context, name string, source []byte) ([]*feature.Feature, error) {
	natives, err := format.ParseGPX(source)
	if err != nil {
		return nil, err
	}
	features, err := a.ConvertToFeatures(a.reproject(natives))
	if err != nil {
		return nil, err
	}
	layer, err := a.CreateLayer(name, features)
	if err != nil {
		return nil, err
	}
	if err := awaitLoaded(ctx, layer); err != nil {
		return nil, err
	}
	log.Debug().Str("layer", name).Str("format", string(format.GPX)).Int("features", len(features)).Msg("Layer loaded")
	return layer.Features(), nil
}

// CreateLayer adds a vector layer holding features to the map.
func (a *Adapter) CreateLayer(name string, features []*feature.Feature) (*mapengine.Layer, error) {
	layer := mapengine.NewVector(name, mapengine.LayerOptions{
		Origin:                 mapengine.OriginLocal,
		DisplayInLayerSwitcher: true,
	})
	layer.AddFeatures(features...)
	if err := a.m.AddLayers(layer); err != nil {
		return nil, fmt.Errorf("create layer %q: %w", name, err)
	}
	return layer, nil
}

// LayerIDs returns the ids of the map layers in insertion order.
func (a *Adapter) LayerIDs() []string {
	layers := a.m.Layers()
	ids := make([]string, len(layers))
	for i, l := range layers {
		ids[i] = l.ID()
	}
	return ids
}

// RemoveLayers removes the layers with the given ids. Unknown ids are
// skipped.
func (a *Adapter) RemoveLayers(ids ...string) {
	for _, id := range ids {
		if err := a.m.RemoveLayer(id); err != nil {
			log.Debug().Err(err).Str("layer", id).Msg("Layer not removed")
		}
	}
}

// CenterFeatures fits the viewport to the combined extent of features.
// It reports false and leaves the view alone when there is nothing to fit.
func (a *Adapter) CenterFeatures(features []*feature.Feature) (mapengine.View, bool) {
	extent, ok := feature.Extent(features)
	if !ok {
		return mapengine.View{}, false
	}
	return a.m.Fit(extent, mapengine.FitOptions{
		Duration:      CenterDuration,
		MinResolution: CenterMinResolution,
	}), true
}

// ConvertToFeatures converts engine-native features into normalized ones.
func (a *Adapter) ConvertToFeatures(native any) ([]*feature.Feature, error) {
	return feature.FromNative(native)
}

func (a *Adapter) reproject(natives []*geojson.Feature) []*geojson.Feature {
	for _, nf := range natives {
		nf.Geometry = a.m.Reproject(nf.Geometry)
	}
	return natives
}

func awaitLoaded(ctx context.Context, layer *mapengine.Layer) error {
	select {
	case <-layer.Loaded():
		return layer.Err()
	case <-ctx.Done():
		return fmt.Errorf("layer %q: %w", layer.Name(), ctx.Err())
	}
}
