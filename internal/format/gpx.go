package format

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tkrajina/gpxgo/gpx"
)

// ParseGPX parses a GPX document. Waypoints become points, routes become
// line strings and tracks become multi line strings (one line per segment).
func ParseGPX(data []byte) ([]*geojson.Feature, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("gpx: %w", err)
	}

	var out []*geojson.Feature
	for i := range doc.Waypoints {
		wp := &doc.Waypoints[i]
		f := geojson.NewFeature(orb.Point{wp.Longitude, wp.Latitude})
		setGPXPointProps(f.Properties, wp)
		out = append(out, f)
	}

	for _, rte := range doc.Routes {
		line := make(orb.LineString, 0, len(rte.Points))
		for _, p := range rte.Points {
			line = append(line, orb.Point{p.Longitude, p.Latitude})
		}
		if len(line) == 0 {
			continue
		}
		f := geojson.NewFeature(line)
		setNonEmpty(f.Properties, "name", rte.Name)
		setNonEmpty(f.Properties, "desc", rte.Description)
		setNonEmpty(f.Properties, "type", rte.Type)
		out = append(out, f)
	}

	for _, trk := range doc.Tracks {
		var mls orb.MultiLineString
		for _, seg := range trk.Segments {
			line := make(orb.LineString, 0, len(seg.Points))
			for _, p := range seg.Points {
				line = append(line, orb.Point{p.Longitude, p.Latitude})
			}
			if len(line) > 0 {
				mls = append(mls, line)
			}
		}
		if len(mls) == 0 {
			continue
		}
		f := geojson.NewFeature(mls)
		setNonEmpty(f.Properties, "name", trk.Name)
		setNonEmpty(f.Properties, "desc", trk.Description)
		setNonEmpty(f.Properties, "type", trk.Type)
		out = append(out, f)
	}
	return out, nil
}

func setGPXPointProps(props geojson.Properties, p *gpx.GPXPoint) {
	setNonEmpty(props, "name", p.Name)
	setNonEmpty(props, "desc", p.Description)
	setNonEmpty(props, "sym", p.Symbol)
	setNonEmpty(props, "type", p.Type)
	if p.Elevation.NotNull() {
		props["ele"] = p.Elevation.Value()
	}
	if !p.Timestamp.IsZero() {
		props["time"] = p.Timestamp.UTC().Format(time.RFC3339)
	}
}

func setNonEmpty(props geojson.Properties, key, value string) {
	if value != "" {
		props[key] = value
	}
}
