// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/humastar"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/plugin"
)

// Version is the API version reported by /health and /api/v1/info.
const Version = "1.0.0"

// Services holds the dependencies of the API handlers.
type Services struct {
	Map    *mapengine.Map
	Plugin *plugin.AddLayers
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID"`
}

type ListInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

type LayerBody struct {
	ID                     string    `json:"id" doc:"Layer ID"`
	Name                   string    `json:"name" doc:"Layer name" example:"region"`
	Kind                   string    `json:"kind" enum:"vector,geojson" doc:"Layer implementation"`
	Origin                 string    `json:"origin" doc:"Provenance tag" example:"Local"`
	DisplayInLayerSwitcher bool      `json:"displayInLayerSwitcher" doc:"Shown in layer switchers"`
	Loaded                 bool      `json:"loaded" doc:"Whether the map finished loading the layer"`
	Features               int       `json:"features" doc:"Number of features"`
	GeometryTypes          []string  `json:"geometryTypes" doc:"Distinct geometry types"`
	Extent                 []float64 `json:"extent,omitempty" doc:"WGS84 extent [minLon, minLat, maxLon, maxLat]"`
}

var layerActions = []humastar.ActionDef{
	{Rel: "features", Pattern: "/api/v1/layers/%s/features", Method: "GET", Title: "Layer features"},
	{Rel: "export", Pattern: "/api/v1/layers/%s/export", Method: "GET", Title: "Export as PMTiles"},
	{Rel: "delete", Pattern: "/api/v1/layers/%s", Method: "DELETE", Title: "Remove layer"},
}

// Actions implements humastar.Actor.
func (b LayerBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, layerActions)
}

type LayerOutput struct {
	Body LayerBody
}

type LayersOutput struct {
	Body humastar.PageBody[LayerBody]
}

type FeaturesOutput struct {
	Body *geojson.FeatureCollection
}

type ViewBody struct {
	Projection string    `json:"projection" doc:"Map projection code" example:"EPSG:3857"`
	Center     []float64 `json:"center" doc:"WGS84 center [lon, lat]"`
	Resolution float64   `json:"resolution" doc:"Map units per pixel"`
	Extent     []float64 `json:"extent,omitempty" doc:"WGS84 extent of the last fit"`
	DurationMS int64     `json:"durationMs" doc:"Animation duration of the last fit"`
	Revision   uint64    `json:"revision" doc:"Incremented on every fit"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds the REST API handlers.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route.
func RegisterRoutes(api huma.API, svc *Services) {
	h := NewAPIHandler(svc)
	h.RegisterHealth(api)
	h.RegisterLayers(api)
	h.RegisterView(api)
	h.RegisterTiles(api)
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/features", h.GetLayerFeatures, huma.OperationTags("layers"))
}

// RegisterView registers viewport routes.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *ListInput) (*LayersOutput, error) {
	layers := h.svc.Map.Layers()
	page := humastar.PageBody[LayerBody]{
		Total:  len(layers),
		Offset: input.Offset,
		Limit:  input.Limit,
		Data:   []LayerBody{},
	}
	if input.Offset < len(layers) {
		end := min(input.Offset+input.Limit, len(layers))
		for _, l := range layers[input.Offset:end] {
			page.Data = append(page.Data, LayerSummary(h.svc.Map, l))
		}
	}
	return &LayersOutput{Body: page}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	l, ok := h.svc.Map.Layer(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: LayerSummary(h.svc.Map, l)}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Map.RemoveLayer(input.ID); err != nil {
		if errors.Is(err, mapengine.ErrLayerNotFound) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, huma.Error500InternalServerError("remove layer", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

func (h *APIHandler) GetLayerFeatures(ctx context.Context, input *IDInput) (*FeaturesOutput, error) {
	_, features, err := h.loadedWGS84(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &FeaturesOutput{Body: feature.Collection(features)}, nil
}

func (h *APIHandler) GetView(ctx context.Context, input *struct{}) (*struct{ Body ViewBody }, error) {
	return &struct{ Body ViewBody }{Body: ViewSummary(h.svc.Map)}, nil
}

// LayerSummary describes a layer with its extent in WGS84.
func LayerSummary(m *mapengine.Map, l *mapengine.Layer) LayerBody {
	body := LayerBody{
		ID:                     l.ID(),
		Name:                   l.Name(),
		Kind:                   string(l.Kind()),
		Origin:                 l.Options().Origin,
		DisplayInLayerSwitcher: l.Options().DisplayInLayerSwitcher,
		GeometryTypes:          []string{},
	}
	select {
	case <-l.Loaded():
		body.Loaded = true
	default:
	}

	features := l.Features()
	body.Features = len(features)
	for _, f := range features {
		if t := f.GeometryType(); !slices.Contains(body.GeometryTypes, t) {
			body.GeometryTypes = append(body.GeometryTypes, t)
		}
	}
	if ext, ok := l.Extent(); ok {
		b := m.ToWGS84(ext)
		body.Extent = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return body
}

// ViewSummary describes the viewport in WGS84.
func ViewSummary(m *mapengine.Map) ViewBody {
	v := m.View()
	c := m.ToWGS84(orb.Bound{Min: v.Center, Max: v.Center}).Min
	body := ViewBody{
		Projection: m.Projection(),
		Center:     []float64{c[0], c[1]},
		Resolution: v.Resolution,
		DurationMS: v.Duration.Milliseconds(),
		Revision:   v.Revision,
	}
	if v.Revision > 0 {
		b := m.ToWGS84(v.Extent)
		body.Extent = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return body
}
