package pmtiles

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), ZxyToID(0, 0, 0))
	assert.Equal(t, uint64(1), ZxyToID(1, 0, 0))
	assert.Equal(t, uint64(2), ZxyToID(1, 0, 1))
	assert.Equal(t, uint64(3), ZxyToID(1, 1, 1))
	assert.Equal(t, uint64(4), ZxyToID(1, 1, 0))
	assert.Equal(t, uint64(5), ZxyToID(2, 0, 0))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          127,
		RootLength:          10,
		TileDataLength:      99,
		TileEntriesCount:    4,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MaxZoom:             14,
		MinLonE7:            -37000000,
		MaxLatE7:            404000000,
		CenterLonE7:         -1,
	}
	got, err := DeserializeHeader(SerializeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DeserializeHeader([]byte("nope"))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, Archive{
		Name:    "roads",
		MaxZoom: 1,
		Bounds:  [4]float64{-10, -5, 10, 5},
		Tiles: []Tile{
			{Z: 1, X: 1, Y: 1, Data: []byte("bb")},
			{Z: 0, X: 0, Y: 0, Data: []byte("a")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	h, err := DeserializeHeader(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.TileEntriesCount)
	assert.Equal(t, uint64(3), h.TileDataLength)
	assert.Equal(t, int32(-100000000), h.MinLonE7)
	assert.Equal(t, int32(0), h.CenterLatE7)
	// Tiles are clustered by id, so z0 comes first.
	assert.Equal(t, "abb", string(buf.Bytes()[h.TileDataOffset:]))

	_, err = Write(&buf, Archive{})
	assert.ErrorIs(t, err, ErrEmpty)
}
