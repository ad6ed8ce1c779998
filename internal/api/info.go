package api

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/format"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
)

type InfoHandler struct {
	svc     *Services
	dataDir string
	dbOK    bool
}

func NewInfoHandler(svc *Services, dataDir string, dbOK bool) *InfoHandler {
	return &InfoHandler{svc: svc, dataDir: dataDir, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string             `json:"name" doc:"Service name"`
	Version     string             `json:"version" doc:"Service version"`
	Plugin      mapengine.Metadata `json:"plugin" doc:"Plugin metadata"`
	Projection  string             `json:"projection" doc:"Map projection code"`
	Accept      []string           `json:"accept" doc:"Accepted file extensions"`
	MaxFileSize int64              `json:"maxFileSize" doc:"Largest accepted upload in bytes"`
	DataDir     string             `json:"data_dir" doc:"Data directory path"`
	DB          bool               `json:"db" doc:"Whether database is available"`
	Features    []string           `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	var accept []string
	for _, ext := range strings.Split(format.Accept, ",") {
		accept = append(accept, strings.TrimSpace(ext))
	}
	features := []string{"kml", "gpx", "geojson", "shapefile", "mvt", "pmtiles"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:        "plat-addlayers",
		Version:     Version,
		Plugin:      h.svc.Plugin.Metadata(),
		Projection:  h.svc.Map.Projection(),
		Accept:      accept,
		MaxFileSize: control.MaxFileSize,
		DataDir:     h.dataDir,
		DB:          h.dbOK,
		Features:    features,
	}}, nil
}
