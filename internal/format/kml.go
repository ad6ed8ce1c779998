package format

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-addlayers/internal/feature"
)

// KMLOptions controls KML parsing.
type KMLOptions struct {
	// ExtractStyles copies Style/StyleMap definitions into simplestyle
	// properties of each feature.
	ExtractStyles bool
}

type kmlRoot struct {
	XMLName xml.Name
	kmlContainer
}

type kmlContainer struct {
	Styles     []kmlStyle     `xml:"Style"`
	StyleMaps  []kmlStyleMap  `xml:"StyleMap"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
}

type kmlPlacemark struct {
	ID           string          `xml:"id,attr"`
	Name         string          `xml:"name"`
	Description  string          `xml:"description"`
	StyleURL     string          `xml:"styleUrl"`
	Style        *kmlStyle       `xml:"Style"`
	ExtendedData kmlExtendedData `xml:"ExtendedData"`
	kmlGeometry
}

type kmlExtendedData struct {
	Data []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value"`
	} `xml:"Data"`
	SimpleData []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"SchemaData>SimpleData"`
}

type kmlGeometry struct {
	Points      []kmlCoords   `xml:"Point"`
	LineStrings []kmlCoords   `xml:"LineString"`
	LinearRings []kmlCoords   `xml:"LinearRing"`
	Polygons    []kmlPolygon  `xml:"Polygon"`
	Multi       []kmlGeometry `xml:"MultiGeometry"`
}

type kmlCoords struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlCoords   `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlCoords `xml:"innerBoundaryIs>LinearRing"`
}

type kmlStyle struct {
	ID        string `xml:"id,attr"`
	IconStyle *struct {
		Color string `xml:"color"`
		Icon  struct {
			Href string `xml:"href"`
		} `xml:"Icon"`
	} `xml:"IconStyle"`
	LineStyle *struct {
		Color string `xml:"color"`
		Width string `xml:"width"`
	} `xml:"LineStyle"`
	PolyStyle *struct {
		Color string `xml:"color"`
	} `xml:"PolyStyle"`
}

type kmlStyleMap struct {
	ID    string `xml:"id,attr"`
	Pairs []struct {
		Key      string `xml:"key"`
		StyleURL string `xml:"styleUrl"`
	} `xml:"Pair"`
}

// ParseKML parses a KML document into features.
func ParseKML(data []byte, opts KMLOptions) ([]*geojson.Feature, error) {
	var root kmlRoot
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("kml: decode: %w", err)
	}
	if root.XMLName.Local != "kml" {
		return nil, fmt.Errorf("kml: unexpected root element <%s>", root.XMLName.Local)
	}

	p := &kmlParser{
		opts:      opts,
		styles:    map[string]*kmlStyle{},
		styleMaps: map[string]string{},
	}
	p.collectStyles(&root.kmlContainer)

	var out []*geojson.Feature
	if err := p.walk(&root.kmlContainer, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type kmlParser struct {
	opts      KMLOptions
	styles    map[string]*kmlStyle
	styleMaps map[string]string // StyleMap id -> normal styleUrl
}

func (p *kmlParser) collectStyles(c *kmlContainer) {
	for i := range c.Styles {
		p.styles[c.Styles[i].ID] = &c.Styles[i]
	}
	for _, sm := range c.StyleMaps {
		for _, pair := range sm.Pairs {
			if pair.Key == "normal" {
				p.styleMaps[sm.ID] = pair.StyleURL
			}
		}
	}
	for i := range c.Documents {
		p.collectStyles(&c.Documents[i])
	}
	for i := range c.Folders {
		p.collectStyles(&c.Folders[i])
	}
}

func (p *kmlParser) walk(c *kmlContainer, out *[]*geojson.Feature) error {
	for i := range c.Placemarks {
		f, err := p.placemark(&c.Placemarks[i])
		if err != nil {
			return err
		}
		if f != nil {
			*out = append(*out, f)
		}
	}
	for i := range c.Documents {
		if err := p.walk(&c.Documents[i], out); err != nil {
			return err
		}
	}
	for i := range c.Folders {
		if err := p.walk(&c.Folders[i], out); err != nil {
			return err
		}
	}
	return nil
}

func (p *kmlParser) placemark(pm *kmlPlacemark) (*geojson.Feature, error) {
	geom, err := pm.kmlGeometry.geometry()
	if err != nil {
		return nil, fmt.Errorf("kml: placemark %q: %w", pm.Name, err)
	}
	if geom == nil {
		return nil, nil
	}

	f := geojson.NewFeature(geom)
	if pm.ID != "" {
		f.ID = pm.ID
	}
	if pm.Name != "" {
		f.Properties["name"] = strings.TrimSpace(pm.Name)
	}
	if pm.Description != "" {
		f.Properties["description"] = strings.TrimSpace(pm.Description)
	}
	for _, d := range pm.ExtendedData.Data {
		f.Properties[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range pm.ExtendedData.SimpleData {
		f.Properties[d.Name] = strings.TrimSpace(d.Value)
	}

	if p.opts.ExtractStyles {
		if s := p.resolve(pm.StyleURL); s != nil {
			applyKMLStyle(f.Properties, s)
		}
		if pm.Style != nil {
			applyKMLStyle(f.Properties, pm.Style)
		}
	}
	return f, nil
}

func (p *kmlParser) resolve(url string) *kmlStyle {
	id := strings.TrimPrefix(strings.TrimSpace(url), "#")
	if id == "" {
		return nil
	}
	if s, ok := p.styles[id]; ok {
		return s
	}
	if normal, ok := p.styleMaps[id]; ok && strings.TrimPrefix(normal, "#") != id {
		return p.resolve(normal)
	}
	return nil
}

func applyKMLStyle(props geojson.Properties, s *kmlStyle) {
	if s.LineStyle != nil {
		if hex, opacity, ok := kmlColor(s.LineStyle.Color); ok {
			props[feature.KeyStroke] = hex
			props[feature.KeyStrokeOpacity] = opacity
		}
		if w, err := strconv.ParseFloat(strings.TrimSpace(s.LineStyle.Width), 64); err == nil {
			props[feature.KeyStrokeWidth] = w
		}
	}
	if s.PolyStyle != nil {
		if hex, opacity, ok := kmlColor(s.PolyStyle.Color); ok {
			props[feature.KeyFill] = hex
			props[feature.KeyFillOpacity] = opacity
		}
	}
	if s.IconStyle != nil {
		if hex, _, ok := kmlColor(s.IconStyle.Color); ok {
			props[feature.KeyMarkerColor] = hex
		}
		if href := strings.TrimSpace(s.IconStyle.Icon.Href); href != "" {
			props[feature.KeyMarkerSymbol] = href
		}
	}
}

// kmlColor converts a KML aabbggrr color into a CSS hex color and opacity.
func kmlColor(c string) (string, float64, bool) {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) != 8 {
		return "", 0, false
	}
	v, err := strconv.ParseUint(c, 16, 32)
	if err != nil {
		return "", 0, false
	}
	a := (v >> 24) & 0xff
	b := (v >> 16) & 0xff
	g := (v >> 8) & 0xff
	r := v & 0xff
	opacity := float64(int(float64(a)/255*100+0.5)) / 100
	return fmt.Sprintf("#%02x%02x%02x", r, g, b), opacity, true
}

func (g *kmlGeometry) geometry() (orb.Geometry, error) {
	var parts []orb.Geometry
	for _, c := range g.Points {
		pts, err := parseCoordinates(c.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		parts = append(parts, pts[0])
	}
	for _, c := range g.LineStrings {
		pts, err := parseCoordinates(c.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		parts = append(parts, orb.LineString(pts))
	}
	for _, c := range g.LinearRings {
		pts, err := parseCoordinates(c.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			continue
		}
		parts = append(parts, orb.Polygon{orb.Ring(pts)})
	}
	for _, pg := range g.Polygons {
		outer, err := parseCoordinates(pg.Outer.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(outer) == 0 {
			continue
		}
		poly := orb.Polygon{orb.Ring(outer)}
		for _, in := range pg.Inner {
			pts, err := parseCoordinates(in.Coordinates)
			if err != nil {
				return nil, err
			}
			if len(pts) > 0 {
				poly = append(poly, orb.Ring(pts))
			}
		}
		parts = append(parts, poly)
	}
	for i := range g.Multi {
		m, err := g.Multi[i].geometry()
		if err != nil {
			return nil, err
		}
		if m != nil {
			parts = append(parts, m)
		}
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return mergeGeometries(parts), nil
}

// mergeGeometries folds homogeneous parts into Multi* geometries and falls
// back to a collection otherwise.
func mergeGeometries(parts []orb.Geometry) orb.Geometry {
	var (
		mp  orb.MultiPoint
		mls orb.MultiLineString
		mpg orb.MultiPolygon
	)
	for _, g := range parts {
		switch v := g.(type) {
		case orb.Point:
			mp = append(mp, v)
		case orb.LineString:
			mls = append(mls, v)
		case orb.Polygon:
			mpg = append(mpg, v)
		default:
			return orb.Collection(parts)
		}
	}
	switch len(parts) {
	case len(mp):
		return mp
	case len(mls):
		return mls
	case len(mpg):
		return mpg
	}
	return orb.Collection(parts)
}

// parseCoordinates parses whitespace separated "lon,lat[,alt]" tuples.
func parseCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	pts := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		vals := strings.Split(tuple, ",")
		if len(vals) < 2 {
			return nil, fmt.Errorf("invalid coordinate %q", tuple)
		}
		lon, err := strconv.ParseFloat(vals[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude %q: %w", vals[0], err)
		}
		lat, err := strconv.ParseFloat(vals[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude %q: %w", vals[1], err)
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts, nil
}
