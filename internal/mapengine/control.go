package mapengine

import (
	"slices"
	"strings"
	"sync"
)

// Control is a UI element attached to the map through a Panel.
type Control interface {
	Name() string
	// CreateView renders the control's HTML fragment.
	CreateView() (string, error)
	Equals(other Control) bool
	AddedToMap(m *Map)
}

// Plugin is a bundle of controls attached to and detached from a Map.
type Plugin interface {
	AddTo(m *Map) error
	Destroy()
	Name() string
	Metadata() Metadata
}

// Metadata describes a plugin.
type Metadata struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	Author      string   `yaml:"author" json:"author,omitempty"`
}

// Position is the corner a panel is docked to.
type Position string

const (
	TopLeft     Position = "TL"
	TopRight    Position = "TR"
	BottomLeft  Position = "BL"
	BottomRight Position = "BR"
)

// PanelOptions configure a Panel.
type PanelOptions struct {
	ClassName            string
	Collapsible          bool
	Position             Position
	CollapsedButtonClass string
	Tooltip              string
}

// Panel groups controls into a collapsible container.
type Panel struct {
	ID      string
	Options PanelOptions

	mu          sync.Mutex
	controls    []Control
	html        string
	touchScroll bool
	onAdded     []func(html string)
}

// NewPanel creates an empty panel.
func NewPanel(id string, opts PanelOptions) *Panel {
	return &Panel{ID: id, Options: opts}
}

// AddControls adds controls, skipping ones equal to a control already present.
func (p *Panel) AddControls(controls ...Control) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range controls {
		if slices.ContainsFunc(p.controls, c.Equals) {
			continue
		}
		p.controls = append(p.controls, c)
	}
}

// Controls returns the panel's controls.
func (p *Panel) Controls() []Control {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.controls)
}

// OnAdded registers fn to run once the panel has been added to a map.
func (p *Panel) OnAdded(fn func(html string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAdded = append(p.onAdded, fn)
}

// EnableTouchScroll lets the panel content scroll on touch devices.
func (p *Panel) EnableTouchScroll() {
	p.mu.Lock()
	p.touchScroll = true
	p.mu.Unlock()
}

func (p *Panel) TouchScroll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touchScroll
}

// HTML returns the panel content rendered when it was added to the map.
func (p *Panel) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html
}

func (p *Panel) render() (string, error) {
	var b strings.Builder
	for _, c := range p.Controls() {
		view, err := c.CreateView()
		if err != nil {
			return "", err
		}
		b.WriteString(view)
	}
	return b.String(), nil
}

func (p *Panel) added(html string) {
	p.mu.Lock()
	p.html = html
	callbacks := slices.Clone(p.onAdded)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn(html)
	}
}

func (p *Panel) removeControls(controls []Control) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls = slices.DeleteFunc(p.controls, func(c Control) bool {
		return slices.Contains(controls, c)
	})
}
