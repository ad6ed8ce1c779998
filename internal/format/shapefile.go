package format

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNoShapefiles is returned for archives without any .shp member.
var ErrNoShapefiles = errors.New("zip contains no shapefiles")

// ShapefilePart is one shapefile found in a zip archive.
type ShapefilePart struct {
	Name       string
	Collection *geojson.FeatureCollection
}

// ParseShapefileZip decodes every shapefile contained in a zip archive.
// Parts are returned in archive order; each is decoded concurrently.
func ParseShapefileZip(data []byte) ([]ShapefilePart, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("shapefile: %w", err)
	}

	var names []string
	for _, f := range zr.File {
		if strings.EqualFold(path.Ext(f.Name), ".shp") && !strings.HasPrefix(path.Base(f.Name), ".") {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoShapefiles
	}

	// go-shp reads shapefiles from disk.
	dir, err := os.MkdirTemp("", "addlayers-shp-*")
	if err != nil {
		return nil, fmt.Errorf("shapefile: %w", err)
	}
	defer os.RemoveAll(dir)

	parts := make([]ShapefilePart, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			shpPath, err := extractShape(zr, name, filepath.Join(dir, strconv.Itoa(i)))
			if err != nil {
				return fmt.Errorf("shapefile %s: %w", name, err)
			}
			fc, err := readShape(shpPath, mercatorPrj(zr, name))
			if err != nil {
				return fmt.Errorf("shapefile %s: %w", name, err)
			}
			parts[i] = ShapefilePart{
				Name:       BaseName(path.Base(name)),
				Collection: fc,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// extractShape copies the members sharing shpName's base name (.shp, .shx,
// .dbf, ...) into dir and returns the path of the extracted .shp file.
func extractShape(zr *zip.Reader, shpName, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stem := strings.ToLower(strings.TrimSuffix(shpName, path.Ext(shpName)))
	for _, f := range zr.File {
		ext := path.Ext(f.Name)
		if strings.ToLower(strings.TrimSuffix(f.Name, ext)) != stem {
			continue
		}
		if err := extractFile(f, filepath.Join(dir, "part"+strings.ToLower(ext))); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "part.shp"), nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// readShape decodes one extracted shapefile. go-shp panics on some corrupt
// records (negative part counts, truncated point arrays); those come back as
// errors.
func readShape(shpPath string, fromMercator bool) (fc *geojson.FeatureCollection, err error) {
	defer func() {
		if r := recover(); r != nil {
			fc, err = nil, fmt.Errorf("corrupt shapefile: %v", r)
		}
	}()

	r, err := shp.Open(shpPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	fields := r.Fields()
	fc = geojson.NewFeatureCollection()
	for r.Next() {
		n, s := r.Shape()
		geom := shapeGeometry(s)
		if geom == nil {
			continue
		}
		if fromMercator {
			geom = project.Geometry(geom, project.Mercator.ToWGS84)
		}
		f := geojson.NewFeature(geom)
		for i, field := range fields {
			f.Properties[field.String()] = attributeValue(field, r.ReadAttribute(n, i))
		}
		fc.Append(f)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return fc, nil
}

// mercatorPrj reports whether the .prj next to shpName declares Web
// Mercator. Other projected systems are passed through untouched.
func mercatorPrj(zr *zip.Reader, shpName string) bool {
	want := strings.ToLower(strings.TrimSuffix(shpName, path.Ext(shpName)) + ".prj")
	for _, f := range zr.File {
		if strings.ToLower(f.Name) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return false
		}
		wkt := buf.String()
		switch {
		case strings.Contains(wkt, "Mercator_Auxiliary_Sphere"),
			strings.Contains(wkt, "Popular_Visualisation"),
			strings.Contains(wkt, "Pseudo_Mercator"), strings.Contains(wkt, "Pseudo-Mercator"):
			return true
		case strings.HasPrefix(wkt, "PROJCS"):
			log.Warn().Str("shape", shpName).Msg("Unsupported shapefile projection, using coordinates as-is")
		}
		return false
	}
	return false
}

func attributeValue(f shp.Field, raw string) any {
	v := strings.Trim(raw, " \x00")
	switch f.Fieldtype {
	case 'N', 'F':
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	case 'L':
		switch strings.ToUpper(v) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
	}
	return v
}

func shapeGeometry(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}
	case *shp.PointM:
		return orb.Point{v.X, v.Y}
	case *shp.MultiPoint:
		return multiPoint(v.Points)
	case *shp.MultiPointZ:
		return multiPoint(v.Points)
	case *shp.MultiPointM:
		return multiPoint(v.Points)
	case *shp.PolyLine:
		return lines(v.Parts, v.Points)
	case *shp.PolyLineZ:
		return lines(v.Parts, v.Points)
	case *shp.PolyLineM:
		return lines(v.Parts, v.Points)
	case *shp.Polygon:
		return polygons(v.Parts, v.Points)
	case *shp.PolygonZ:
		return polygons(v.Parts, v.Points)
	case *shp.PolygonM:
		return polygons(v.Parts, v.Points)
	}
	return nil
}

func multiPoint(points []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i < len(parts)-1 {
			end = int(parts[i+1])
		}
		if start < 0 || start > end || end > len(points) {
			continue
		}
		line := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			line = append(line, orb.Point{p.X, p.Y})
		}
		out = append(out, line)
	}
	return out
}

func lines(parts []int32, points []shp.Point) orb.Geometry {
	split := splitParts(parts, points)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, l := range split {
		mls[i] = l
	}
	return mls
}

// polygons groups rings into polygons: clockwise rings are outer rings,
// counter-clockwise rings are holes of the preceding outer ring.
func polygons(parts []int32, points []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, pts := range splitParts(parts, points) {
		ring := orb.Ring(pts)
		if ring.Orientation() != orb.CCW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
