package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/tiler"
)

// RegisterTiles registers the vector tile routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-layer-tile",
		Method:      http.MethodGet,
		Path:        "/api/v1/layers/{id}/tiles/{z}/{x}/{y}",
		Summary:     "Get a layer vector tile",
		Description: "Gzipped Mapbox Vector Tile of the layer. 204 when the tile is empty.",
		Tags:        []string{"tiles"},
		Responses: map[string]*huma.Response{
			"200": {Description: "Vector tile", Content: map[string]*huma.MediaType{"application/vnd.mapbox-vector-tile": {}}},
			"204": {Description: "Empty tile"},
		},
	}, h.GetLayerTile)
	huma.Register(api, huma.Operation{
		OperationID: "export-layer",
		Method:      http.MethodGet,
		Path:        "/api/v1/layers/{id}/export",
		Summary:     "Export a layer as PMTiles",
		Tags:        []string{"tiles"},
		Responses: map[string]*huma.Response{
			"200": {Description: "PMTiles archive", Content: map[string]*huma.MediaType{"application/vnd.pmtiles": {}}},
		},
	}, h.ExportLayer)
}

type TileInput struct {
	ID string `path:"id" doc:"Layer ID"`
	Z  int    `path:"z" minimum:"0" maximum:"22" doc:"Zoom"`
	X  int    `path:"x" minimum:"0" doc:"Tile column"`
	Y  int    `path:"y" minimum:"0" doc:"Tile row"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	Body            []byte
}

type ExportInput struct {
	ID      string `path:"id" doc:"Layer ID"`
	MinZoom int    `query:"minzoom" minimum:"0" maximum:"14" default:"0" doc:"Lowest zoom"`
	MaxZoom int    `query:"maxzoom" minimum:"0" maximum:"14" default:"14" doc:"Highest zoom"`
}

type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func (h *APIHandler) GetLayerTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if n := 1 << input.Z; input.X >= n || input.Y >= n {
		return nil, huma.Error400BadRequest(fmt.Sprintf("tile %d/%d/%d out of range", input.Z, input.X, input.Y))
	}
	l, features, err := h.loadedWGS84(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	t := maptile.New(uint32(input.X), uint32(input.Y), maptile.Zoom(input.Z))
	data, err := tiler.Tile(l.Name(), features, t)
	if err != nil {
		return nil, huma.Error500InternalServerError("encode tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		Body:            data,
	}, nil
}

func (h *APIHandler) ExportLayer(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	if input.MinZoom > input.MaxZoom {
		return nil, huma.Error400BadRequest("minzoom must not exceed maxzoom")
	}
	l, features, err := h.loadedWGS84(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := tiler.Export(&buf, l.Name(), features, input.MinZoom, input.MaxZoom); err != nil {
		if errors.Is(err, tiler.ErrNoTiles) {
			return nil, huma.Error422UnprocessableEntity("layer has no features to tile")
		}
		return nil, huma.Error500InternalServerError("export layer", err)
	}
	return &ExportOutput{
		ContentType:        "application/vnd.pmtiles",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", l.Name()+".pmtiles"),
		Body:               buf.Bytes(),
	}, nil
}

// loadedWGS84 waits for the layer to load and returns its features in
// WGS84.
func (h *APIHandler) loadedWGS84(ctx context.Context, id string) (*mapengine.Layer, []*feature.Feature, error) {
	l, ok := h.svc.Map.Layer(id)
	if !ok {
		return nil, nil, huma.Error404NotFound("layer not found")
	}
	select {
	case <-l.Loaded():
	case <-ctx.Done():
		return nil, nil, huma.Error503ServiceUnavailable("layer still loading")
	}

	features := l.Features()
	out := make([]*feature.Feature, len(features))
	for i, f := range features {
		c := *f
		c.Geometry = h.svc.Map.Unproject(f.Geometry)
		out[i] = &c
	}
	return l, out, nil
}
