// Package feature defines the normalized feature model used by local layers
// and the conversions between it and engine-native GeoJSON features.
package feature

import (
	"errors"
	"fmt"
	"maps"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNotFeatureList is returned when a conversion receives something other
// than a list of engine-native features.
var ErrNotFeatureList = errors.New("input is not a feature list")

// Simplestyle property keys carrying the visual style of a native feature.
const (
	KeyStroke        = "stroke"
	KeyStrokeWidth   = "stroke-width"
	KeyStrokeOpacity = "stroke-opacity"
	KeyFill          = "fill"
	KeyFillOpacity   = "fill-opacity"
	KeyMarkerColor   = "marker-color"
	KeyMarkerSymbol  = "marker-symbol"
)

// Style is the visual style of a feature.
type Style struct {
	Stroke        string  `json:"stroke,omitempty"`
	StrokeWidth   float64 `json:"strokeWidth,omitempty"`
	StrokeOpacity float64 `json:"strokeOpacity,omitempty"`
	Fill          string  `json:"fill,omitempty"`
	FillOpacity   float64 `json:"fillOpacity,omitempty"`
	MarkerColor   string  `json:"markerColor,omitempty"`
	MarkerSymbol  string  `json:"markerSymbol,omitempty"`
}

// IsZero reports whether no style attribute is set.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Feature is a single geometric object with its properties and style.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]any
	Style      *Style
}

// GeometryType returns the GeoJSON type name of the geometry.
func (f *Feature) GeometryType() string {
	if f.Geometry == nil {
		return ""
	}
	return f.Geometry.GeoJSONType()
}

// Bound returns the bounding box of the geometry.
func (f *Feature) Bound() orb.Bound {
	return f.Geometry.Bound()
}

// FromNative converts engine-native features into normalized features.
// Accepted inputs are []*geojson.Feature and *geojson.FeatureCollection.
func FromNative(v any) ([]*Feature, error) {
	var natives []*geojson.Feature
	switch n := v.(type) {
	case []*geojson.Feature:
		natives = n
	case *geojson.FeatureCollection:
		if n == nil {
			return nil, ErrNotFeatureList
		}
		natives = n.Features
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotFeatureList, v)
	}

	out := make([]*Feature, 0, len(natives))
	for _, nf := range natives {
		if nf == nil || nf.Geometry == nil {
			continue
		}
		out = append(out, fromNative(nf))
	}
	return out, nil
}

func fromNative(nf *geojson.Feature) *Feature {
	f := &Feature{
		ID:         idString(nf.ID),
		Geometry:   nf.Geometry,
		Properties: make(map[string]any, len(nf.Properties)),
	}
	maps.Copy(f.Properties, nf.Properties)
	if s := styleFromProperties(nf.Properties); !s.IsZero() {
		f.Style = &s
	}
	return f
}

// ToNative converts normalized features back into GeoJSON features, writing
// the style into simplestyle properties.
func ToNative(features []*Feature) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		nf := geojson.NewFeature(f.Geometry)
		if f.ID != "" {
			nf.ID = f.ID
		}
		maps.Copy(nf.Properties, f.Properties)
		if f.Style != nil {
			f.Style.apply(nf.Properties)
		}
		out = append(out, nf)
	}
	return out
}

// Collection wraps features into a FeatureCollection.
func Collection(features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = ToNative(features)
	return fc
}

// Extent returns the combined bounding box of the features. Geometries
// without coordinates are ignored; ok is false when nothing is left to
// bound.
func Extent(features []*Feature) (b orb.Bound, ok bool) {
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fb := f.Bound()
		if fb.IsEmpty() {
			continue
		}
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

func styleFromProperties(p geojson.Properties) Style {
	return Style{
		Stroke:        p.MustString(KeyStroke, ""),
		StrokeWidth:   p.MustFloat64(KeyStrokeWidth, 0),
		StrokeOpacity: p.MustFloat64(KeyStrokeOpacity, 0),
		Fill:          p.MustString(KeyFill, ""),
		FillOpacity:   p.MustFloat64(KeyFillOpacity, 0),
		MarkerColor:   p.MustString(KeyMarkerColor, ""),
		MarkerSymbol:  p.MustString(KeyMarkerSymbol, ""),
	}
}

func (s Style) apply(p geojson.Properties) {
	setString := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	setFloat := func(k string, v float64) {
		if v != 0 {
			p[k] = v
		}
	}
	setString(KeyStroke, s.Stroke)
	setFloat(KeyStrokeWidth, s.StrokeWidth)
	setFloat(KeyStrokeOpacity, s.StrokeOpacity)
	setString(KeyFill, s.Fill)
	setFloat(KeyFillOpacity, s.FillOpacity)
	setString(KeyMarkerColor, s.MarkerColor)
	setString(KeyMarkerSymbol, s.MarkerSymbol)
}

func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}
