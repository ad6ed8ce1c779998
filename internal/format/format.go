// Package format detects and parses the local file formats that can be
// imported as map layers: KML, GPX, GeoJSON and zipped Shapefiles.
//
// Parsers return engine-native features (orb GeoJSON) in WGS84 lon/lat.
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Format is an importable file format.
type Format string

const (
	KML       Format = "kml"
	GPX       Format = "gpx"
	GeoJSON   Format = "geojson"
	Shapefile Format = "zip"
)

// ReadMode is how a file has to be read before parsing.
type ReadMode int

const (
	ReadText ReadMode = iota
	ReadBinary
)

func (m ReadMode) String() string {
	if m == ReadBinary {
		return "binary"
	}
	return "text"
}

// Accept lists the accepted file extensions, in file-input accept syntax.
const Accept = ".kml, .zip, .gpx, .geojson"

// ErrUnsupportedExtension is returned for extensions outside Accept.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

var extPattern = regexp.MustCompile(`\.[^/.]+$`)

// Ext returns the lower-cased text after the last dot of name. A name
// without a dot is returned whole, lower-cased.
func Ext(name string) string {
	return strings.ToLower(name[strings.LastIndex(name, ".")+1:])
}

// BaseName strips the last extension from name.
func BaseName(name string) string {
	return extPattern.ReplaceAllString(name, "")
}

// Accepts reports whether ext (without dot) is in the accept list.
func Accepts(ext string) bool {
	for _, a := range strings.Split(Accept, ",") {
		if strings.TrimSpace(a) == "."+ext {
			return true
		}
	}
	return false
}

// Detect returns the format for a file name.
func Detect(name string) (Format, error) {
	ext := Ext(name)
	if !Accepts(ext) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return Format(ext), nil
}

// ReadMode returns how files of this format are read.
func (f Format) ReadMode() ReadMode {
	if f == Shapefile {
		return ReadBinary
	}
	return ReadText
}
