// Package templates renders the HTML fragments patched into the page over
// Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed fragments/*.html
var fragments embed.FS

var funcMap = template.FuncMap{
	"join": strings.Join,
	// extent formats a WGS84 [minLon, minLat, maxLon, maxLat] box.
	"extent": func(e []float64) string {
		if len(e) != 4 {
			return ""
		}
		return fmt.Sprintf("%.4f, %.4f / %.4f, %.4f", e[0], e[1], e[2], e[3])
	},
}

// Renderer executes the named fragments. Reload swaps them atomically.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
}

// New creates a renderer from the fragments compiled into the binary.
func New() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// NewFromDir creates a renderer from the *.html files in dir instead of the
// embedded fragments.
func NewFromDir(dir string) (*Renderer, error) {
	r := &Renderer{}
	if err := r.Reload(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// Render renders the named fragment to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload parses the fragments in dir again.
func (r *Renderer) Reload(dir string) error {
	tmpl, err := template.New("").Funcs(funcMap).ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}
