// Package mapengine is the in-process host map: layers, viewport,
// projection, panels and controls. Plugins attach to a Map and the HTTP
// layer observes it through the EventBus.
package mapengine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog/log"
)

// Supported projection codes.
const (
	EPSG3857   = "EPSG:3857"
	EPSG900913 = "EPSG:900913"
	EPSG4326   = "EPSG:4326"
)

const (
	DefaultWidth  = 1024
	DefaultHeight = 768

	// mercatorWorld is the width of the Web Mercator plane in meters.
	mercatorWorld = 2 * math.Pi * 6378137
)

var (
	ErrUnknownProjection = errors.New("unknown projection")
	ErrLayerNotFound     = errors.New("layer not found")
	ErrClosed            = errors.New("map closed")
)

// Options configure a new Map.
type Options struct {
	Projection string
	Width      int
	Height     int
}

// View is the current viewport.
type View struct {
	Center     orb.Point     `json:"center"`
	Resolution float64       `json:"resolution"`
	Extent     orb.Bound     `json:"extent"`
	Duration   time.Duration `json:"duration"`
	Revision   uint64        `json:"revision"`
}

// FitOptions tune Map.Fit.
type FitOptions struct {
	Duration      time.Duration
	MinResolution float64
}

// Map holds layers, controls and the viewport.
type Map struct {
	mu         sync.RWMutex
	projection string
	width      int
	height     int
	view       View
	layers     []*Layer
	controls   []Control
	panels     []*Panel
	closed     bool

	bus     *EventBus
	loading sync.WaitGroup
}

// New creates a map. Zero width/height fall back to 1024x768 and an empty
// projection to EPSG:3857.
func New(opts Options) (*Map, error) {
	if opts.Projection == "" {
		opts.Projection = EPSG3857
	}
	switch opts.Projection {
	case EPSG3857, EPSG900913, EPSG4326:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProjection, opts.Projection)
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}

	m := &Map{
		projection: opts.Projection,
		width:      opts.Width,
		height:     opts.Height,
		bus:        NewEventBus(),
	}
	world := mercatorWorld
	if !m.mercator() {
		world = 360
	}
	m.view = View{Resolution: world / float64(m.width)}
	return m, nil
}

// Projection returns the map projection code.
func (m *Map) Projection() string { return m.projection }

// Size returns the viewport size in pixels.
func (m *Map) Size() (width, height int) { return m.width, m.height }

// Bus returns the map event bus.
func (m *Map) Bus() *EventBus { return m.bus }

func (m *Map) mercator() bool {
	return m.projection == EPSG3857 || m.projection == EPSG900913
}

// Reproject returns a copy of g, given in WGS84, in the map projection.
func (m *Map) Reproject(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	if !m.mercator() {
		return orb.Clone(g)
	}
	return project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
}

// Unproject returns a copy of g, given in map projection, in WGS84.
func (m *Map) Unproject(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	if !m.mercator() {
		return orb.Clone(g)
	}
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}

// ToWGS84 converts a bound in map projection to longitude/latitude.
func (m *Map) ToWGS84(b orb.Bound) orb.Bound {
	if !m.mercator() {
		return b
	}
	return orb.Bound{
		Min: project.Mercator.ToWGS84(b.Min),
		Max: project.Mercator.ToWGS84(b.Max),
	}
}

// AddLayers assigns ids to the layers and loads them in the background.
// Each layer's Loaded channel is closed once its features are available.
func (m *Map) AddLayers(layers ...*Layer) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	for _, l := range layers {
		l.id = uuid.NewString()
		m.layers = append(m.layers, l)
		m.loading.Add(1)
	}
	m.mu.Unlock()

	for _, l := range layers {
		go func() {
			defer m.loading.Done()
			l.load(m)
			if err := l.Err(); err != nil {
				log.Error().Err(err).Str("layer", l.Name()).Msg("Layer load failed")
			}
			m.bus.Publish(Event{Resource: ResourceLayers, Action: ActionAdded, ID: l.ID()})
		}()
	}
	return nil
}

// RemoveLayer removes a layer by id.
func (m *Map) RemoveLayer(id string) error {
	m.mu.Lock()
	i := slices.IndexFunc(m.layers, func(l *Layer) bool { return l.id == id })
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	m.layers = slices.Delete(m.layers, i, i+1)
	m.mu.Unlock()

	m.bus.Publish(Event{Resource: ResourceLayers, Action: ActionRemoved, ID: id})
	return nil
}

// Layers returns the layers in insertion order.
func (m *Map) Layers() []*Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.layers)
}

// Layer looks up a layer by id.
func (m *Map) Layer(id string) (*Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.layers {
		if l.id == id {
			return l, true
		}
	}
	return nil, false
}

// Fit moves the viewport so extent is entirely visible.
func (m *Map) Fit(extent orb.Bound, opts FitOptions) View {
	res := math.Max(
		(extent.Max[0]-extent.Min[0])/float64(m.width),
		(extent.Max[1]-extent.Min[1])/float64(m.height),
	)
	if res < opts.MinResolution {
		res = opts.MinResolution
	}

	m.mu.Lock()
	m.view = View{
		Center:     extent.Center(),
		Resolution: res,
		Extent:     extent,
		Duration:   opts.Duration,
		Revision:   m.view.Revision + 1,
	}
	v := m.view
	m.mu.Unlock()

	m.bus.Publish(Event{Resource: ResourceView, Action: ActionFit})
	return v
}

// View returns the current viewport.
func (m *Map) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// AddPanels renders each panel's controls, attaches the controls to the map
// and notifies the panel.
func (m *Map) AddPanels(panels ...*Panel) error {
	for _, p := range panels {
		html, err := p.render()
		if err != nil {
			return fmt.Errorf("panel %s: %w", p.ID, err)
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		m.panels = append(m.panels, p)
		var added []Control
		for _, c := range p.Controls() {
			if slices.ContainsFunc(m.controls, func(o Control) bool { return o == c }) {
				continue
			}
			m.controls = append(m.controls, c)
			added = append(added, c)
		}
		m.mu.Unlock()

		p.added(html)
		for _, c := range added {
			c.AddedToMap(m)
			m.bus.Publish(Event{Resource: ResourceControls, Action: ActionAdded, ID: c.Name()})
		}
	}
	return nil
}

// RemoveControls detaches controls from the map and from their panels.
// Panels left without controls are removed too.
func (m *Map) RemoveControls(controls ...Control) {
	m.mu.Lock()
	var removed []Control
	m.controls = slices.DeleteFunc(m.controls, func(c Control) bool {
		if slices.Contains(controls, c) {
			removed = append(removed, c)
			return true
		}
		return false
	})
	m.panels = slices.DeleteFunc(m.panels, func(p *Panel) bool {
		p.removeControls(controls)
		return len(p.Controls()) == 0
	})
	m.mu.Unlock()

	for _, c := range removed {
		m.bus.Publish(Event{Resource: ResourceControls, Action: ActionRemoved, ID: c.Name()})
	}
}

// Controls returns the attached controls.
func (m *Map) Controls() []Control {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.controls)
}

// Panels returns the attached panels.
func (m *Map) Panels() []*Panel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.panels)
}

// Close waits for pending layer loads and releases the map.
func (m *Map) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.loading.Wait()

	m.mu.Lock()
	m.layers = nil
	m.controls = nil
	m.panels = nil
	m.mu.Unlock()
	m.bus.Close()
}
