// Package pmtiles writes single-directory PMTiles v3 archives.
//
// The binary layout follows github.com/protomaps/go-pmtiles (BSD-3-Clause).
// Spec: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sort"
)

// Compression is the compression algorithm applied to tiles and directories.
type Compression uint8

const (
	NoCompression Compression = 1
	Gzip          Compression = 2
)

// TileType is the format of individual tile contents.
type TileType uint8

const Mvt TileType = 1

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

var (
	ErrEmpty          = errors.New("pmtiles: no tiles")
	ErrBadHeader      = errors.New("pmtiles: invalid header")
	errNotImplemented = errors.New("pmtiles: compression not supported")
)

// HeaderV3 is the binary header of an archive.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EntryV3 is a directory entry.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts tile coordinates to a Hilbert tile id.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

var le = binary.LittleEndian

// SerializeHeader encodes h.
func SerializeHeader(h HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	for i, v := range []uint64{
		h.RootOffset, h.RootLength,
		h.MetadataOffset, h.MetadataLength,
		h.LeafDirectoryOffset, h.LeafDirectoryLength,
		h.TileDataOffset, h.TileDataLength,
		h.AddressedTilesCount, h.TileEntriesCount, h.TileContentsCount,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	if h.Clustered {
		b[96] = 1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader decodes a header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes || string(d[0:7]) != "PMTiles" {
		return h, ErrBadHeader
	}
	h.SpecVersion = d[7]
	offsets := []*uint64{
		&h.RootOffset, &h.RootLength,
		&h.MetadataOffset, &h.MetadataLength,
		&h.LeafDirectoryOffset, &h.LeafDirectoryLength,
		&h.TileDataOffset, &h.TileDataLength,
		&h.AddressedTilesCount, &h.TileEntriesCount, &h.TileContentsCount,
	}
	for i, p := range offsets {
		*p = le.Uint64(d[8+8*i:])
	}
	h.Clustered = d[96] == 1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:]))
	h.MinLatE7 = int32(le.Uint32(d[106:]))
	h.MaxLonE7 = int32(le.Uint32(d[110:]))
	h.MaxLatE7 = int32(le.Uint32(d[114:]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:]))
	h.CenterLatE7 = int32(le.Uint32(d[123:]))
	return h, nil
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case Gzip:
		var b bytes.Buffer
		w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	}
	return nil, errNotImplemented
}

// SerializeMetadata encodes the metadata JSON.
func SerializeMetadata(metadata map[string]any, c Compression) ([]byte, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return compress(data, c)
}

// SerializeEntries encodes a directory: count, delta ids, run lengths,
// lengths, then offsets (0 when contiguous with the previous entry).
func SerializeEntries(entries []EntryV3, c Compression) ([]byte, error) {
	var b bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		b.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	lastID := uint64(0)
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	return compress(b.Bytes(), c)
}

// Tile is one encoded tile.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// Archive describes the archive written by Write. Bounds are WGS84
// degrees [minLon, minLat, maxLon, maxLat].
type Archive struct {
	Name            string
	MinZoom         uint8
	MaxZoom         uint8
	Bounds          [4]float64
	TileCompression Compression
	Tiles           []Tile
}

// Write writes a clustered archive with a single root directory.
func Write(w io.Writer, a Archive) (int64, error) {
	if len(a.Tiles) == 0 {
		return 0, ErrEmpty
	}
	tiles := make([]struct {
		id   uint64
		data []byte
	}, len(a.Tiles))
	for i, t := range a.Tiles {
		tiles[i].id = ZxyToID(t.Z, t.X, t.Y)
		tiles[i].data = t.Data
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].id < tiles[j].id })

	var data bytes.Buffer
	entries := make([]EntryV3, len(tiles))
	for i, t := range tiles {
		entries[i] = EntryV3{
			TileID:    t.id,
			Offset:    uint64(data.Len()),
			Length:    uint32(len(t.data)),
			RunLength: 1,
		}
		data.Write(t.data)
	}

	tileCompression := a.TileCompression
	if tileCompression == 0 {
		tileCompression = Gzip
	}
	meta, err := SerializeMetadata(map[string]any{
		"name":    a.Name,
		"format":  "pbf",
		"minzoom": a.MinZoom,
		"maxzoom": a.MaxZoom,
		"vector_layers": []map[string]any{
			{"id": a.Name, "minzoom": a.MinZoom, "maxzoom": a.MaxZoom, "fields": map[string]string{}},
		},
	}, Gzip)
	if err != nil {
		return 0, err
	}
	root, err := SerializeEntries(entries, Gzip)
	if err != nil {
		return 0, err
	}

	e7 := func(v float64) int32 { return int32(v * 1e7) }
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		MetadataOffset:      HeaderV3LenBytes + uint64(len(root)),
		MetadataLength:      uint64(len(meta)),
		TileDataOffset:      HeaderV3LenBytes + uint64(len(root)) + uint64(len(meta)),
		TileDataLength:      uint64(data.Len()),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     tileCompression,
		TileType:            Mvt,
		MinZoom:             a.MinZoom,
		MaxZoom:             a.MaxZoom,
		MinLonE7:            e7(a.Bounds[0]),
		MinLatE7:            e7(a.Bounds[1]),
		MaxLonE7:            e7(a.Bounds[2]),
		MaxLatE7:            e7(a.Bounds[3]),
		CenterZoom:          a.MinZoom,
		CenterLonE7:         e7((a.Bounds[0] + a.Bounds[2]) / 2),
		CenterLatE7:         e7((a.Bounds[1] + a.Bounds[3]) / 2),
	}

	var total int64
	for _, part := range [][]byte{SerializeHeader(h), root, meta, data.Bytes()} {
		n, err := w.Write(part)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
