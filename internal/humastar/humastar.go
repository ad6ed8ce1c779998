// Package humastar bridges Huma operations and Datastar SSE for the panel
// handlers, and carries the hypermedia helpers (actions, pagination) the REST
// handlers emit as Link headers.
//
//	type Handler struct {
//	    humastar.Handler
//	    plugin *plugin.AddLayers
//	}
//
//	func (h *Handler) ListLayers(ctx context.Context, _ *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(h.RenderList("layer-card", items, empty), "#layer-list")
//	    }), nil
//	}
package humastar

import (
	"bytes"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-addlayers/internal/templates"
)

// Handler is embedded by SSE handlers. Renderer must be set.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a StreamResponse. The stream only works behind the
// humago adapter.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			fn(NewSSE(ctx))
		},
	}
}

// EmptyState is rendered by RenderList when there are no items.
type EmptyState struct {
	Title   string
	Message string
}

// RenderList renders every item with tmpl, or empty when items is empty.
func (h *Handler) RenderList(tmpl string, items []any, empty EmptyState) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		h.Renderer.RenderToBuffer(&buf, "empty-state", empty)
		return buf.String()
	}
	for _, item := range items {
		h.Renderer.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// SSE is a Datastar event generator bound to one request.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE opens the event stream on ctx.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the inner HTML of selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeInner(), datastar.WithViewTransitions())
}

// Replace replaces the element matched by selector.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeOuter(), datastar.WithViewTransitions())
}

// Error, Success and Info set the message signal of the same name.
func (s SSE) Error(msg string)   { s.Signals(map[string]string{"error": msg}) }
func (s SSE) Success(msg string) { s.Signals(map[string]string{"success": msg}) }
func (s SSE) Info(msg string)    { s.Signals(map[string]string{"info": msg}) }

// Signals patches signals; structs are marshalled with their json tags.
func (s SSE) Signals(signals any) {
	s.MarshalAndPatchSignals(signals)
}
