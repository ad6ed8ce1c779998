// Package formattest builds local-file fixtures for tests.
package formattest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// Part is one point shapefile inside a zip fixture.
type Part struct {
	Name   string
	Points []orb.Point
}

// WriteShapefile creates name.shp/.shx/.dbf in dir with one point per
// entry. Each record carries NAME (the shapefile name) and IDX.
func WriteShapefile(t *testing.T, dir, name string, points []orb.Point) {
	t.Helper()
	w, err := shp.Create(filepath.Join(dir, name+".shp"), shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("IDX", 8),
	}))
	for i, p := range points {
		n := w.Write(&shp.Point{X: p[0], Y: p[1]})
		require.NoError(t, w.WriteAttribute(int(n), 0, name))
		require.NoError(t, w.WriteAttribute(int(n), 1, i))
	}
	w.Close()
}

// ZipDir zips the shapefile members of names found in dir, in order.
func ZipDir(t *testing.T, dir string, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		for _, ext := range []string{".shp", ".shx", ".dbf"} {
			data, err := os.ReadFile(filepath.Join(dir, n+ext))
			require.NoError(t, err)
			fw, err := zw.Create(n + ext)
			require.NoError(t, err)
			_, err = fw.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// CorruptShapefileZip builds a zip holding name.shp with a single polyline
// record whose part count is negative.
func CorruptShapefileZip(t *testing.T, name string) []byte {
	t.Helper()
	const contentLen = 4 + 32 + 4 + 4
	shpData := make([]byte, 100+8+contentLen)
	be, le := binary.BigEndian, binary.LittleEndian

	be.PutUint32(shpData[0:], 9994)
	be.PutUint32(shpData[24:], uint32(len(shpData)/2))
	le.PutUint32(shpData[28:], 1000)
	le.PutUint32(shpData[32:], uint32(shp.POLYLINE))

	rec := shpData[100:]
	be.PutUint32(rec[0:], 1)
	be.PutUint32(rec[4:], contentLen/2)
	le.PutUint32(rec[8:], uint32(shp.POLYLINE))
	// bbox left zeroed
	neg := int32(-1)
	le.PutUint32(rec[44:], uint32(neg))
	le.PutUint32(rec[48:], 0)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create(name + ".shp")
	require.NoError(t, err)
	_, err = fw.Write(shpData)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// ShapefileZip builds a zip with one point shapefile per part, in order.
func ShapefileZip(t *testing.T, parts ...Part) []byte {
	t.Helper()
	dir := t.TempDir()
	names := make([]string, len(parts))
	for i, p := range parts {
		WriteShapefile(t, dir, p.Name, p.Points)
		names[i] = p.Name
	}
	return ZipDir(t, dir, names...)
}
