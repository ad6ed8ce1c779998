package format

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedGeoJSON is returned for GeoJSON objects of an unknown type.
var ErrUnsupportedGeoJSON = errors.New("unsupported geojson object")

// ParseGeoJSON accepts raw text or an already structured GeoJSON value and
// returns it as a FeatureCollection. Supported sources: string, []byte,
// *geojson.FeatureCollection, *geojson.Feature, *geojson.Geometry and a
// decoded map[string]any.
func ParseGeoJSON(source any) (*geojson.FeatureCollection, error) {
	switch src := source.(type) {
	case *geojson.FeatureCollection:
		if src == nil {
			return nil, fmt.Errorf("geojson: %w: nil collection", ErrUnsupportedGeoJSON)
		}
		return src, nil
	case *geojson.Feature:
		fc := geojson.NewFeatureCollection()
		return fc.Append(src), nil
	case *geojson.Geometry:
		fc := geojson.NewFeatureCollection()
		return fc.Append(geojson.NewFeature(src.Geometry())), nil
	case string:
		return decodeGeoJSON([]byte(src))
	case []byte:
		return decodeGeoJSON(src)
	case map[string]any:
		data, err := json.Marshal(src)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		return decodeGeoJSON(data)
	default:
		return nil, fmt.Errorf("geojson: %w: %T", ErrUnsupportedGeoJSON, source)
	}
}

func decodeGeoJSON(data []byte) (*geojson.FeatureCollection, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		return fc, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		return geojson.NewFeatureCollection().Append(f), nil
	case "Point", "MultiPoint", "LineString", "MultiLineString",
		"Polygon", "MultiPolygon", "GeometryCollection":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("geojson: %w", err)
		}
		return geojson.NewFeatureCollection().Append(geojson.NewFeature(g.Geometry())), nil
	}
	return nil, fmt.Errorf("geojson: %w: type %q", ErrUnsupportedGeoJSON, probe.Type)
}
