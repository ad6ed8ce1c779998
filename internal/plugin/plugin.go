// Package plugin is the addlayers plugin shell. It wraps the upload control
// in a panel and manages its attachment to a map.
package plugin

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

// Name is the plugin identity.
const Name = "addlayers"

// Panel settings.
const (
	PanelID              = "panelAddLayers"
	PanelClass           = "m-addlayers"
	CollapsedButtonClass = "g-cartografia-mas2"
	Tooltip              = "Load local layers"
)

//go:embed api.yaml
var descriptor []byte

var ErrAttached = errors.New("plugin already attached to a map")

// ParseMetadata decodes a plugin descriptor.
func ParseMetadata(data []byte) (mapengine.Metadata, error) {
	var md mapengine.Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("plugin descriptor: %w", err)
	}
	return md, nil
}

// Options configure the control built by AddTo.
type Options struct {
	Notifier control.Notifier
	Renderer *templates.Renderer
	// Loader overrides the adapter the control builds on attachment.
	Loader control.Loader
}

// AddLayers is the plugin.
type AddLayers struct {
	mu       sync.Mutex
	opts     Options
	metadata mapengine.Metadata
	m        *mapengine.Map
	ctrl     *control.Control
	controls []mapengine.Control
	panel    *mapengine.Panel
	onAdded  []func()
}

var _ mapengine.Plugin = (*AddLayers)(nil)

// New creates the plugin. It panics if the embedded descriptor is invalid.
func New(opts Options) *AddLayers {
	md, err := ParseMetadata(descriptor)
	if err != nil {
		panic(err)
	}
	return &AddLayers{opts: opts, metadata: md}
}

// Name is the fixed plugin name.
func (p *AddLayers) Name() string { return Name }

// Metadata returns the descriptor parsed from api.yaml.
func (p *AddLayers) Metadata() mapengine.Metadata { return p.metadata }

// OnAdded registers fn to run once the control has been attached.
func (p *AddLayers) OnAdded(fn func()) {
	p.mu.Lock()
	p.onAdded = append(p.onAdded, fn)
	p.mu.Unlock()
}

// Control returns the upload control while attached.
func (p *AddLayers) Control() *control.Control {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl
}

// Panel returns the panel while attached.
func (p *AddLayers) Panel() *mapengine.Panel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.panel
}

// Map returns the map while attached.
func (p *AddLayers) Map() *mapengine.Map {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

// AddTo builds the control and panel and adds them to m.
func (p *AddLayers) AddTo(m *mapengine.Map) error {
	p.mu.Lock()
	if p.m != nil {
		p.mu.Unlock()
		return ErrAttached
	}
	ctrl := control.New(control.Options{
		Notifier: p.opts.Notifier,
		Renderer: p.opts.Renderer,
		Loader:   p.opts.Loader,
	})
	panel := mapengine.NewPanel(PanelID, mapengine.PanelOptions{
		ClassName:            PanelClass,
		Collapsible:          true,
		Position:             mapengine.TopRight,
		CollapsedButtonClass: CollapsedButtonClass,
		Tooltip:              Tooltip,
	})
	p.m = m
	p.ctrl = ctrl
	p.controls = []mapengine.Control{ctrl}
	p.panel = panel
	p.mu.Unlock()

	panel.OnAdded(func(string) { panel.EnableTouchScroll() })
	panel.AddControls(ctrl)
	ctrl.OnAddedToMap(p.fireAdded)

	if err := m.AddPanels(panel); err != nil {
		p.release()
		return fmt.Errorf("add %s panel: %w", Name, err)
	}
	log.Debug().Str("plugin", Name).Str("projection", m.Projection()).Msg("Plugin added")
	return nil
}

// Destroy removes the controls from the map and drops every reference.
func (p *AddLayers) Destroy() {
	p.mu.Lock()
	m, controls := p.m, p.controls
	p.mu.Unlock()

	if m != nil {
		m.RemoveControls(controls...)
	}
	p.release()
}

func (p *AddLayers) release() {
	p.mu.Lock()
	p.m, p.ctrl, p.controls, p.panel = nil, nil, nil, nil
	p.mu.Unlock()
}

func (p *AddLayers) fireAdded() {
	p.mu.Lock()
	callbacks := append([]func(){}, p.onAdded...)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}
