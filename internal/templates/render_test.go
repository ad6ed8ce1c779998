package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type card struct {
	ID, Name, Kind, Origin string
	Features               int
	GeometryTypes          []string
	Extent                 []float64
}

func TestLayerCard(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	html, err := r.Render("layer-card", card{
		ID: "7f3c", Name: "tracks", Kind: "GPX", Origin: "local", Features: 2,
		GeometryTypes: []string{"LineString", "Point"},
		Extent:        []float64{-3.71, 40.41, -3.69, 40.42},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="layer-7f3c"`)
	assert.Contains(t, html, "LineString, Point")
	assert.Contains(t, html, "-3.7100, 40.4100 / -3.6900, 40.4200")
	assert.Contains(t, html, "/api/v1/layers/7f3c/export")

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty-state.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{define "empty-state"}}v1 {{.Title}}{{end}}`), 0o644))

	r, err := NewFromDir(dir)
	require.NoError(t, err)
	html, err := r.Render("empty-state", map[string]string{"Title": "none"})
	require.NoError(t, err)
	assert.Equal(t, "v1 none", html)

	require.NoError(t, os.WriteFile(path, []byte(`{{define "empty-state"}}v2{{end}}`), 0o644))
	require.NoError(t, r.Reload(dir))
	html, err = r.Render("empty-state", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", html)

	_, err = NewFromDir(t.TempDir())
	assert.Error(t, err)
}
