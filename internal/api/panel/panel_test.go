package panel

import (
	"bufio"
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/feature"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/plugin"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

const points = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[-3.7,40.4]}},
{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"Point","coordinates":[-3.6,40.5]}}]}`

func setup(t *testing.T) (*http.ServeMux, *plugin.AddLayers) {
	t.Helper()
	r, err := templates.New()
	require.NoError(t, err)
	m, err := mapengine.New(mapengine.Options{})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	dialogs := &control.Dialogs{}
	p := plugin.New(plugin.Options{Notifier: dialogs, Renderer: r})
	require.NoError(t, p.AddTo(m))

	mux := http.NewServeMux()
	a := humago.New(mux, huma.DefaultConfig("test", "1.0.0"))
	NewHandler(p, dialogs, r).RegisterRoutes(a)
	return mux, p
}

func do(t *testing.T, mux http.Handler, req *http.Request) string {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return w.Body.String()
}

func postSignals(t *testing.T, mux http.Handler, path, body string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, mux, req)
}

func postFile(t *testing.T, mux http.Handler, name, content string) string {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/addlayers/file", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do(t, mux, req)
}

func TestView(t *testing.T) {
	mux, _ := setup(t)
	out := do(t, mux, httptest.NewRequest(http.MethodGet, "/api/v1/addlayers/view", nil))
	assert.Contains(t, out, "datastar-patch-elements")
	assert.Contains(t, out, `id="addlayers-panel"`)
}

func TestSelectAndLoad(t *testing.T) {
	mux, p := setup(t)

	out := postFile(t, mux, "points.geojson", points)
	assert.Contains(t, out, `"layername":"points"`)
	assert.Contains(t, out, `"loaddisabled":false`)

	out = postSignals(t, mux, "/api/v1/addlayers/load", `{"layername":"stations","centerview":true}`)
	assert.Contains(t, out, "Layer 'stations' loaded")
	assert.Contains(t, out, "layer-changed")
	assert.Contains(t, out, "map-fit")

	layers := p.Map().Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, "stations", layers[0].Name())
	assert.Len(t, layers[0].Features(), 2)
	assert.Equal(t, uint64(1), p.Map().View().Revision)
}

func TestLoadWithoutCentering(t *testing.T) {
	mux, p := setup(t)
	postFile(t, mux, "points.geojson", points)

	out := postSignals(t, mux, "/api/v1/addlayers/load", `{"layername":"points","centerview":false}`)
	assert.NotContains(t, out, "map-fit")
	assert.Zero(t, p.Map().View().Revision)
}

func TestLoadReportsDialogs(t *testing.T) {
	mux, _ := setup(t)

	out := postSignals(t, mux, "/api/v1/addlayers/load", `{}`)
	assert.Contains(t, out, control.MsgNoFile)

	postFile(t, mux, "notes.txt", "hello")
	out = postSignals(t, mux, "/api/v1/addlayers/load", `{}`)
	assert.Contains(t, out, "The file extension is not allowed")

	postFile(t, mux, "empty.geojson", `{"type":"FeatureCollection","features":[]}`)
	out = postSignals(t, mux, "/api/v1/addlayers/load", `{}`)
	assert.Contains(t, out, control.MsgNoGeometries)
}

func TestEditName(t *testing.T) {
	mux, p := setup(t)
	postFile(t, mux, "points.geojson", points)

	out := postSignals(t, mux, "/api/v1/addlayers/name", `{"layername":"  ","extractstyle":false}`)
	assert.Contains(t, out, `"loaddisabled":true`)
	assert.False(t, p.Control().State().ExtractStyles)
}

func TestInvalidSignals(t *testing.T) {
	mux, _ := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/addlayers/name", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadedOversize(t *testing.T) {
	f, err := uploaded(&multipart.FileHeader{Filename: "big.kml", Size: control.MaxFileSize + 1})
	require.NoError(t, err)
	assert.Equal(t, "big.kml", f.Name)

	ctrl := control.New(control.Options{Notifier: &control.Dialogs{}})
	assert.ErrorIs(t, ctrl.SelectFile(f), control.ErrFileTooLarge)
}

func addLayer(t *testing.T, m *mapengine.Map, name string) *mapengine.Layer {
	t.Helper()
	l := mapengine.NewVector(name, mapengine.LayerOptions{Origin: mapengine.OriginLocal})
	l.AddFeatures(&feature.Feature{Geometry: m.Reproject(orb.Point{1, 1})})
	require.NoError(t, m.AddLayers(l))
	<-l.Loaded()
	return l
}

func TestListAndDeleteLayers(t *testing.T) {
	mux, p := setup(t)

	out := do(t, mux, httptest.NewRequest(http.MethodGet, "/api/v1/addlayers/layers", nil))
	assert.Contains(t, out, "No local layers")

	l := addLayer(t, p.Map(), "tracks")
	out = do(t, mux, httptest.NewRequest(http.MethodGet, "/api/v1/addlayers/layers", nil))
	assert.Contains(t, out, "layer-"+l.ID())
	assert.Contains(t, out, "tracks")

	out = do(t, mux, httptest.NewRequest(http.MethodDelete, "/api/v1/addlayers/layers/"+l.ID(), nil))
	assert.Contains(t, out, "Layer removed")
	assert.Empty(t, p.Map().Layers())

	out = do(t, mux, httptest.NewRequest(http.MethodDelete, "/api/v1/addlayers/layers/"+l.ID(), nil))
	assert.Contains(t, out, "Layer not found")
}

func TestEvents(t *testing.T) {
	mux, p := setup(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/addlayers/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	addLayer(t, p.Map(), "events")

	found := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "resource-changed") {
			found = true
			break
		}
	}
	assert.True(t, found)
}
