// Package panel contains the Datastar SSE handlers behind the add-layers
// panel.
package panel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/plat-addlayers/internal/api"
	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/humastar"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/plugin"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

// MaxUploadBytes bounds the multipart request body. It leaves room for the
// multipart envelope around a file of control.MaxFileSize.
const MaxUploadBytes = 2 * control.MaxFileSize

// Handler serves the panel.
type Handler struct {
	humastar.Handler
	plugin  *plugin.AddLayers
	dialogs *control.Dialogs
}

// NewHandler creates the panel handler. dialogs must be the notifier the
// plugin was built with.
func NewHandler(p *plugin.AddLayers, dialogs *control.Dialogs, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		plugin:  p,
		dialogs: dialogs,
	}
}

func (h *Handler) RegisterRoutes(a huma.API) {
	huma.Get(a, "/api/v1/addlayers/view", h.View, huma.OperationTags("addlayers"))
	huma.Post(a, "/api/v1/addlayers/file", h.SelectFile, huma.OperationTags("addlayers"),
		func(o *huma.Operation) { o.MaxBodyBytes = MaxUploadBytes })
	huma.Post(a, "/api/v1/addlayers/name", h.EditName, huma.OperationTags("addlayers"))
	huma.Post(a, "/api/v1/addlayers/load", h.Load, huma.OperationTags("addlayers"))
	huma.Get(a, "/api/v1/addlayers/layers", h.ListLayers, huma.OperationTags("addlayers"))
	huma.Delete(a, "/api/v1/addlayers/layers/{id}", h.DeleteLayer, huma.OperationTags("addlayers"))
	huma.Get(a, "/api/v1/addlayers/events", h.Events, huma.OperationTags("addlayers"))
}

// View renders the panel fragment.
func (h *Handler) View(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ctrl := h.plugin.Control()
		if ctrl == nil {
			sse.Error(control.MsgNotAttached)
			return
		}
		html, err := ctrl.CreateView()
		if err != nil {
			sse.Error("Failed to render panel: " + err.Error())
			return
		}
		sse.Replace(html, "#addlayers-panel")
	}), nil
}

type FileInput struct {
	RawBody multipart.Form
}

// SelectFile takes the file input's selection.
func (h *Handler) SelectFile(ctx context.Context, input *FileInput) (*huma.StreamResponse, error) {
	ctrl := h.plugin.Control()
	if ctrl == nil {
		return nil, huma.Error409Conflict(control.MsgNotAttached)
	}

	var f *control.UploadedFile
	if files := input.RawBody.File["file"]; len(files) > 0 {
		var err error
		if f, err = uploaded(files[0]); err != nil {
			return nil, huma.Error400BadRequest("Failed to read uploaded file", err)
		}
	}

	return h.Stream(func(sse humastar.SSE) {
		if err := ctrl.SelectFile(f); err != nil {
			log.Debug().Err(err).Msg("File rejected")
		}
		h.flush(sse, ctrl)
	}), nil
}

// uploaded reads a multipart file into memory. Oversized files are passed on
// unread so the control can reject them.
func uploaded(fh *multipart.FileHeader) (*control.UploadedFile, error) {
	if fh.Size > control.MaxFileSize {
		return &control.UploadedFile{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return nil, control.ErrFileTooLarge },
		}, nil
	}
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		return nil, err
	}
	return control.NewFile(fh.Filename, buf.Bytes()), nil
}

// EditName applies the bound form signals.
func (h *Handler) EditName(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := humastar.Bind[formSignals](input)
	if err != nil {
		return nil, err
	}
	ctrl := h.plugin.Control()
	if ctrl == nil {
		return nil, huma.Error409Conflict(control.MsgNotAttached)
	}
	apply(ctrl, signals)
	return h.Stream(func(sse humastar.SSE) {
		h.flush(sse, ctrl)
	}), nil
}

// Load loads the selected file into the map.
func (h *Handler) Load(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := humastar.Bind[formSignals](input)
	if err != nil {
		return nil, err
	}
	ctrl := h.plugin.Control()
	if ctrl == nil {
		return nil, huma.Error409Conflict(control.MsgNotAttached)
	}
	apply(ctrl, signals)

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			result, err := ctrl.LoadLayer(humaCtx.Context())
			h.flush(sse, ctrl)
			if err != nil {
				log.Debug().Err(err).Msg("Load rejected")
				return
			}

			sse.Success(fmt.Sprintf("Layer '%s' loaded", result.Layer))
			sse.Patch(h.renderLayerList(), "#layer-list")
			sse.DispatchCustomEvent("layer-changed", map[string]any{
				"action":   mapengine.ActionAdded,
				"name":     result.Layer,
				"format":   string(result.Format),
				"features": len(result.Features),
				"parts":    result.Parts,
			})
			if result.Centered {
				sse.DispatchCustomEvent("map-fit", api.ViewSummary(h.plugin.Map()))
			}
		},
	}, nil
}

// formSignals are the panel fields bound with data-bind. Nil means the
// signal was not sent.
type formSignals struct {
	LayerName    *string `json:"layername"`
	CenterView   *bool   `json:"centerview"`
	ExtractStyle *bool   `json:"extractstyle"`
}

func apply(ctrl *control.Control, signals formSignals) {
	if signals.LayerName != nil {
		ctrl.EditName(*signals.LayerName)
	}
	if signals.CenterView != nil {
		ctrl.SetCenterView(*signals.CenterView)
	}
	if signals.ExtractStyle != nil {
		ctrl.SetExtractStyles(*signals.ExtractStyle)
	}
}

// flush sends the control state and the pending dialogs. Dialog signals are
// always sent so stale messages are cleared.
func (h *Handler) flush(sse humastar.SSE, ctrl *control.Control) {
	sse.Signals(ctrl.State())
	msgs := map[string]any{"error": "", "info": ""}
	for _, d := range h.dialogs.Drain() {
		switch d.Kind {
		case control.DialogError:
			msgs["error"] = d.Message
		case control.DialogInfo:
			msgs["info"] = d.Message
		}
	}
	sse.Signals(msgs)
}

// ListLayers renders the layer list.
func (h *Handler) ListLayers(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(h.renderLayerList(), "#layer-list")
	}), nil
}

type DeleteLayerInput struct {
	ID string `path:"id" doc:"Layer ID to remove"`
}

// DeleteLayer removes a layer from the map.
func (h *Handler) DeleteLayer(ctx context.Context, input *DeleteLayerInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		m := h.plugin.Map()
		if m == nil {
			sse.Error(control.MsgNotAttached)
			return
		}
		if err := m.RemoveLayer(input.ID); err != nil {
			if errors.Is(err, mapengine.ErrLayerNotFound) {
				sse.Error("Layer not found")
				return
			}
			sse.Error(err.Error())
			return
		}
		sse.RemoveElementByID("layer-" + input.ID)
		sse.Success("Layer removed")
		sse.DispatchCustomEvent("layer-changed", map[string]any{
			"action": mapengine.ActionRemoved, "id": input.ID,
		})
	}), nil
}

// Events streams map changes until the client goes away.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	m := h.plugin.Map()
	if m == nil {
		return nil, huma.Error409Conflict(control.MsgNotAttached)
	}
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			ch := m.Bus().Subscribe()
			defer m.Bus().Unsubscribe(ch)
			sse := humastar.NewSSE(humaCtx)

			done := humaCtx.Context().Done()
			for {
				select {
				case <-done:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					switch ev.Resource {
					case mapengine.ResourceLayers:
						sse.Patch(h.renderLayerList(), "#layer-list")
					case mapengine.ResourceView:
						sse.DispatchCustomEvent("map-fit", api.ViewSummary(m))
					}
					sse.DispatchCustomEvent("resource-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		},
	}, nil
}

func (h *Handler) renderLayerList() string {
	var items []any
	if m := h.plugin.Map(); m != nil {
		for _, l := range m.Layers() {
			items = append(items, api.LayerSummary(m, l))
		}
	}
	return h.RenderList("layer-card", items, humastar.EmptyState{
		Title:   "No local layers",
		Message: "Choose a KML, GPX, GeoJSON or zipped shapefile to load it",
	})
}
