// Package control implements the upload control: file selection, layer
// naming and the read-and-dispatch sequence that turns a local file into a
// map layer.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/joeblew999/plat-addlayers/internal/adapter"
	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/format"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

// Name identifies the control.
const Name = "AddLayers"

// MaxFileSize is the largest accepted upload, 20 MiB.
const MaxFileSize = 20 * 1024 * 1024

// User-facing messages.
const (
	MsgFileTooLarge  = "The selected file exceeds the maximum allowed size of 20 MB."
	MsgNoGeometries  = "No geometries were detected in this file."
	MsgLoadError     = "Error loading the file. Check that it is the correct file."
	MsgExtension     = "The file extension is not allowed. Allowed extensions are: " + format.Accept
	MsgNoFile        = "No file selected."
	MsgEmptyName     = "Enter a name for the layer."
	MsgNotAttached   = "The control is not attached to a map."
	MsgLoadCancelled = "Loading was cancelled."
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrNoFile       = errors.New("no file selected")
	ErrEmptyName    = errors.New("empty layer name")
	ErrLoad         = errors.New("load failed")
	ErrNotAttached  = errors.New("control not attached to a map")
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Loader is the map-side capability the control drives. *adapter.Adapter
// implements it.
type Loader interface {
	LoadGeoJSONLayer(ctx context.Context, name string, source any) ([]*feature.Feature, error)
	LoadKMLLayer(name string, source []byte, extractStyles bool) ([]*feature.Feature, error)
	LoadGPXLayer(ctx context.Context, name string, source []byte) ([]*feature.Feature, error)
	CenterFeatures(features []*feature.Feature) (mapengine.View, bool)
}

// Unloader is implemented by loaders that can take layers back off the map.
// A failed load removes every layer it added, so a cancelled archive does
// not leave its first parts behind.
type Unloader interface {
	LayerIDs() []string
	RemoveLayers(ids ...string)
}

var _ Unloader = (*adapter.Adapter)(nil)

// UploadedFile is a file chosen by the user.
type UploadedFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// NewFile wraps in-memory bytes as an UploadedFile.
func NewFile(name string, data []byte) *UploadedFile {
	return &UploadedFile{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// OpenFile wraps a file on disk. Only its size is read here; the content is
// opened when the layer is loaded.
func OpenFile(path string) (*UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &UploadedFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Ext returns the lower-cased extension of the file.
func (f *UploadedFile) Ext() string { return format.Ext(f.Name) }

// State is the form state, serialized as Datastar signals.
type State struct {
	FileName       string `json:"filename"`
	LayerName      string `json:"layername"`
	NameDisabled   bool   `json:"namedisabled"`
	LoadDisabled   bool   `json:"loaddisabled"`
	ExtractVisible bool   `json:"extractvisible"`
	CenterView     bool   `json:"centerview"`
	ExtractStyles  bool   `json:"extractstyle"`
}

func initialState() State {
	return State{
		NameDisabled:  true,
		LoadDisabled:  true,
		CenterView:    true,
		ExtractStyles: true,
	}
}

// LoadResult describes a completed load.
type LoadResult struct {
	Layer    string
	Format   format.Format
	Features []*feature.Feature
	Parts    int
	Centered bool
	View     mapengine.View
}

// Options configure a Control.
type Options struct {
	Notifier Notifier
	Renderer *templates.Renderer
	// Loader defaults to an adapter over the map the control is added to.
	Loader Loader
}

// Control is the upload control.
type Control struct {
	mu       sync.Mutex
	state    State
	file     *UploadedFile
	loader   Loader
	notifier Notifier
	renderer *templates.Renderer
	onAdded  []func()
}

// New creates a control with its initial state.
func New(opts Options) *Control {
	n := opts.Notifier
	if n == nil {
		n = LogNotifier{}
	}
	return &Control{
		state:    initialState(),
		loader:   opts.Loader,
		notifier: n,
		renderer: opts.Renderer,
	}
}

// Name identifies the control to the host map.
func (c *Control) Name() string { return Name }

// Equals reports whether other is an upload control.
func (c *Control) Equals(other mapengine.Control) bool {
	_, ok := other.(*Control)
	return ok
}

// OnAddedToMap registers fn to run when the control is attached.
func (c *Control) OnAddedToMap(fn func()) {
	c.mu.Lock()
	c.onAdded = append(c.onAdded, fn)
	c.mu.Unlock()
}

// AddedToMap binds the control to m.
func (c *Control) AddedToMap(m *mapengine.Map) {
	c.mu.Lock()
	if c.loader == nil {
		c.loader = adapter.New(m)
	}
	callbacks := append([]func(){}, c.onAdded...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// State returns a snapshot of the form state.
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectFile handles a file-input change. A nil file clears the selection.
func (c *Control) SelectFile(f *UploadedFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.file = f
	c.state.FileName = ""
	c.state.LayerName = ""
	c.state.NameDisabled = true
	c.state.LoadDisabled = true
	if f == nil {
		return nil
	}

	if f.Size > MaxFileSize {
		c.file = nil
		c.notifier.Info(MsgFileTooLarge)
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, f.Size)
	}

	c.state.FileName = f.Name
	c.state.ExtractVisible = f.Ext() == string(format.KML)
	c.state.LayerName = format.BaseName(f.Name)
	c.state.NameDisabled = false
	c.state.LoadDisabled = false
	log.Debug().Str("file", f.Name).Int64("size", f.Size).Msg("File selected")
	return nil
}

// EditName updates the layer name. The load button is disabled while the
// trimmed name is empty.
func (c *Control) EditName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LayerName = name
	c.state.LoadDisabled = strings.TrimSpace(name) == ""
}

// SetCenterView toggles fitting the view to a loaded layer.
func (c *Control) SetCenterView(on bool) {
	c.mu.Lock()
	c.state.CenterView = on
	c.mu.Unlock()
}

// SetExtractStyles toggles keeping KML styles on load.
func (c *Control) SetExtractStyles(on bool) {
	c.mu.Lock()
	c.state.ExtractStyles = on
	c.mu.Unlock()
}

// LoadLayer reads the pending file, loads it into the map and centers the
// view on the result.
func (c *Control) LoadLayer(ctx context.Context) (LoadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		c.notifier.Error(MsgNoFile)
		return LoadResult{}, ErrNoFile
	}
	if c.loader == nil {
		c.notifier.Error(MsgNotAttached)
		return LoadResult{}, ErrNotAttached
	}
	name := c.state.LayerName
	if strings.TrimSpace(name) == "" {
		c.notifier.Error(MsgEmptyName)
		return LoadResult{}, ErrEmptyName
	}
	f, err := format.Detect(c.file.Name)
	if err != nil {
		c.notifier.Error(MsgExtension)
		return LoadResult{}, err
	}

	data, err := c.read(f)
	if err != nil {
		c.fail()
		return LoadResult{}, fmt.Errorf("%w: read %s: %w", ErrLoad, c.file.Name, err)
	}

	rollback := c.checkpoint()
	result := LoadResult{Layer: name, Format: f}
	switch f {
	case format.Shapefile:
		result.Features, result.Parts, err = c.loadZip(ctx, name, data)
	case format.KML:
		result.Features, err = c.loader.LoadKMLLayer(name, data, c.state.ExtractStyles)
	case format.GPX:
		result.Features, err = c.loader.LoadGPXLayer(ctx, name, data)
	case format.GeoJSON:
		result.Features, err = c.loader.LoadGeoJSONLayer(ctx, name, string(data))
	}
	if err != nil {
		rollback()
		file := c.file.Name
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.notifier.Error(MsgLoadCancelled)
			c.reset()
		} else {
			c.fail()
		}
		log.Warn().Err(err).Str("file", file).Str("format", string(f)).Msg("Load failed")
		return LoadResult{}, fmt.Errorf("%w: %s: %w", ErrLoad, file, err)
	}
	if result.Parts == 0 {
		result.Parts = 1
	}

	result.View, result.Centered = c.centerFeatures(result.Features)
	log.Info().
		Str("layer", name).
		Str("file", c.file.Name).
		Str("format", string(f)).
		Int("features", len(result.Features)).
		Bool("centered", result.Centered).
		Msg("Local layer loaded")
	c.reset()
	return result, nil
}

// loadZip loads every shapefile in the archive as a GeoJSON layer, in
// archive order. All parts are decoded before the first layer is added.
func (c *Control) loadZip(ctx context.Context, name string, data []byte) ([]*feature.Feature, int, error) {
	parts, err := format.ParseShapefileZip(data)
	if err != nil {
		return nil, 0, err
	}

	var features []*feature.Feature
	completed := 0
	for _, part := range parts {
		fs, err := c.loader.LoadGeoJSONLayer(ctx, name, part.Collection)
		if err != nil {
			return nil, completed, fmt.Errorf("part %s: %w", part.Name, err)
		}
		features = append(features, fs...)
		completed++
	}
	if completed != len(parts) {
		return nil, completed, fmt.Errorf("loaded %d of %d parts", completed, len(parts))
	}
	return features, completed, nil
}

// checkpoint records the current layers and returns a func removing the
// layers added since. It is a no-op when the loader cannot remove layers.
func (c *Control) checkpoint() func() {
	u, ok := c.loader.(Unloader)
	if !ok {
		return func() {}
	}
	before := make(map[string]bool)
	for _, id := range u.LayerIDs() {
		before[id] = true
	}
	return func() {
		var added []string
		for _, id := range u.LayerIDs() {
			if !before[id] {
				added = append(added, id)
			}
		}
		if len(added) > 0 {
			u.RemoveLayers(added...)
			log.Debug().Int("layers", len(added)).Msg("Rolled back partial load")
		}
	}
}

func (c *Control) read(f format.Format) ([]byte, error) {
	rc, err := c.file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if f.ReadMode() == format.ReadText {
		data = bytes.TrimPrefix(data, utf8BOM)
	}
	return data, nil
}

// centerFeatures reports an empty result, or fits the view when
// center-view is checked.
func (c *Control) centerFeatures(features []*feature.Feature) (mapengine.View, bool) {
	if len(features) == 0 {
		c.notifier.Info(MsgNoGeometries)
		return mapengine.View{}, false
	}
	if !c.state.CenterView {
		return mapengine.View{}, false
	}
	return c.loader.CenterFeatures(features)
}

func (c *Control) fail() {
	c.notifier.Error(MsgLoadError)
	c.reset()
}

// reset discards the pending file, keeping the checkbox choices.
func (c *Control) reset() {
	next := initialState()
	next.CenterView = c.state.CenterView
	next.ExtractStyles = c.state.ExtractStyles
	c.state = next
	c.file = nil
}

type viewData struct {
	Accept      string
	MaxSizeMB   int
	SignalsJSON string
}

// CreateView renders the control's panel fragment.
func (c *Control) CreateView() (string, error) {
	if c.renderer == nil {
		return "", errors.New("control: no renderer")
	}
	signals, err := json.Marshal(c.State())
	if err != nil {
		return "", err
	}
	return c.renderer.Render("addlayers-panel", viewData{
		Accept:      format.Accept,
		MaxSizeMB:   MaxFileSize / (1024 * 1024),
		SignalsJSON: string(signals),
	})
}
