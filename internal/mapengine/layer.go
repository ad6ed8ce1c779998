package mapengine

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-addlayers/internal/feature"
)

// Kind is the layer implementation.
type Kind string

const (
	KindVector  Kind = "vector"
	KindGeoJSON Kind = "geojson"
)

// OriginLocal tags layers imported from local files.
const OriginLocal = "Local"

// LayerOptions are the engine-level layer options.
type LayerOptions struct {
	Origin                 string
	DisplayInLayerSwitcher bool
}

// Layer is a named collection of features displayed on the map.
type Layer struct {
	mu       sync.RWMutex
	id       string
	name     string
	kind     Kind
	options  LayerOptions
	source   *geojson.FeatureCollection
	features []*feature.Feature
	extent   orb.Bound
	bounded  bool

	loaded  chan struct{}
	loadErr error
}

// NewVector creates an empty vector layer.
func NewVector(name string, opts LayerOptions) *Layer {
	return &Layer{
		name:    name,
		kind:    KindVector,
		options: opts,
		loaded:  make(chan struct{}),
	}
}

// NewGeoJSON creates a layer backed by a GeoJSON source in WGS84. The
// source is reprojected and converted when the map loads the layer.
func NewGeoJSON(name string, source *geojson.FeatureCollection, opts LayerOptions) *Layer {
	return &Layer{
		name:    name,
		kind:    KindGeoJSON,
		options: opts,
		source:  source,
		loaded:  make(chan struct{}),
	}
}

func (l *Layer) ID() string            { return l.id }
func (l *Layer) Name() string          { return l.name }
func (l *Layer) Kind() Kind            { return l.kind }
func (l *Layer) Options() LayerOptions { return l.options }

// AddFeatures appends features to the layer.
func (l *Layer) AddFeatures(features ...*feature.Feature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.features = append(l.features, features...)
	l.extendLocked(features)
}

// Features returns a copy of the layer's feature list.
func (l *Layer) Features() []*feature.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*feature.Feature, len(l.features))
	copy(out, l.features)
	return out
}

// Extent returns the layer extent in map projection.
func (l *Layer) Extent() (orb.Bound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.extent, l.bounded
}

// Loaded is closed once the map finished loading the layer.
func (l *Layer) Loaded() <-chan struct{} {
	return l.loaded
}

// Err returns the load error, if any. Only meaningful after Loaded.
func (l *Layer) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr
}

func (l *Layer) extendLocked(features []*feature.Feature) {
	if b, ok := feature.Extent(features); ok {
		if l.bounded {
			l.extent = l.extent.Union(b)
		} else {
			l.extent, l.bounded = b, true
		}
	}
}

// load runs on the map's loader goroutine.
func (l *Layer) load(m *Map) {
	defer close(l.loaded)

	if l.kind != KindGeoJSON || l.source == nil {
		return
	}

	natives := make([]*geojson.Feature, 0, len(l.source.Features))
	for _, nf := range l.source.Features {
		if nf == nil || nf.Geometry == nil {
			continue
		}
		clone := *nf
		clone.Geometry = m.Reproject(nf.Geometry)
		natives = append(natives, &clone)
	}
	features, err := feature.FromNative(natives)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.loadErr = fmt.Errorf("layer %q: %w", l.name, err)
		return
	}
	l.features = append(l.features, features...)
	l.extendLocked(features)
}
