package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

func newPlugin(t *testing.T) (*AddLayers, *mapengine.Map) {
	t.Helper()
	r, err := templates.New()
	require.NoError(t, err)
	m, err := mapengine.New(mapengine.Options{})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return New(Options{Notifier: &control.Dialogs{}, Renderer: r}), m
}

func TestMetadata(t *testing.T) {
	p, _ := newPlugin(t)
	assert.Equal(t, "addlayers", p.Name())

	md := p.Metadata()
	assert.Equal(t, "addlayers", md.Name)
	assert.NotEmpty(t, md.Version)
	assert.Contains(t, md.Keywords, "shapefile")
}

func TestParseMetadataError(t *testing.T) {
	_, err := ParseMetadata([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestAddTo(t *testing.T) {
	p, m := newPlugin(t)
	added := 0
	p.OnAdded(func() { added++ })

	require.NoError(t, p.AddTo(m))
	assert.Equal(t, 1, added)
	assert.Same(t, m, p.Map())

	panel := p.Panel()
	require.NotNil(t, panel)
	assert.Equal(t, PanelID, panel.ID)
	assert.Equal(t, mapengine.PanelOptions{
		ClassName:            "m-addlayers",
		Collapsible:          true,
		Position:             mapengine.TopRight,
		CollapsedButtonClass: "g-cartografia-mas2",
		Tooltip:              "Load local layers",
	}, panel.Options)
	assert.True(t, panel.TouchScroll())
	assert.Contains(t, panel.HTML(), `id="addlayers-panel"`)

	controls := m.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, control.Name, controls[0].Name())

	assert.ErrorIs(t, p.AddTo(m), ErrAttached)
}

func TestDestroy(t *testing.T) {
	p, m := newPlugin(t)
	require.NoError(t, p.AddTo(m))

	p.Destroy()
	assert.Empty(t, m.Controls())
	assert.Empty(t, m.Panels())
	assert.Nil(t, p.Map())
	assert.Nil(t, p.Control())
	assert.Nil(t, p.Panel())

	// Destroying twice is harmless and the plugin can be re-attached.
	p.Destroy()
	require.NoError(t, p.AddTo(m))
}

func TestAddToWithoutRenderer(t *testing.T) {
	m, err := mapengine.New(mapengine.Options{})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	p := New(Options{})
	require.Error(t, p.AddTo(m))
	assert.Nil(t, p.Map())
	assert.Empty(t, m.Controls())
}
