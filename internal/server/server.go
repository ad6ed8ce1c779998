package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/plat-addlayers/internal/api"
	"github.com/joeblew999/plat-addlayers/internal/api/panel"
	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/db"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/plugin"
	"github.com/joeblew999/plat-addlayers/internal/store"
	"github.com/joeblew999/plat-addlayers/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	DataDir    string
	Projection string
	Width      int
	Height     int
	// FragmentsDir overrides the embedded templates, for live editing.
	FragmentsDir string
	// DisableDB skips DuckDB; layers are then kept in memory only.
	DisableDB bool
}

// Server is the add-layers HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	store    *store.Store
	services *api.Services
	renderer *templates.Renderer
	dialogs  *control.Dialogs
	cancel   context.CancelFunc
}

// New creates the server, its map and the attached plugin.
func New(cfg Config) (*Server, error) {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-addlayers API", api.Version)
	humaConfig.Info.Description = "Load local KML, GPX, GeoJSON and zipped Shapefile files as map layers."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	var renderer *templates.Renderer
	var err error
	if cfg.FragmentsDir != "" {
		renderer, err = templates.NewFromDir(cfg.FragmentsDir)
	} else {
		renderer, err = templates.New()
	}
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}

	m, err := mapengine.New(mapengine.Options{
		Projection: cfg.Projection,
		Width:      cfg.Width,
		Height:     cfg.Height,
	})
	if err != nil {
		return nil, err
	}

	dialogs := &control.Dialogs{}
	p := plugin.New(plugin.Options{Notifier: dialogs, Renderer: renderer})
	if err := p.AddTo(m); err != nil {
		m.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		services: &api.Services{Map: m, Plugin: p},
		renderer: renderer,
		dialogs:  dialogs,
		cancel:   cancel,
	}

	if !cfg.DisableDB {
		s.openStore(ctx)
	}

	s.routes()
	return s, nil
}

// openStore mirrors the map's layers into DuckDB. Failures leave the server
// running without persistence.
func (s *Server) openStore(ctx context.Context) {
	conn, err := db.Get(db.Config{DataDir: s.config.DataDir, DBName: "addlayers"})
	if err != nil {
		log.Warn().Err(err).Msg("DuckDB unavailable")
		return
	}
	st, err := store.New(ctx, conn)
	if err != nil {
		log.Warn().Err(err).Msg("Feature store unavailable")
		return
	}
	s.db = conn
	s.store = st
	st.Run(ctx, s.services.Map)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Map returns the server's map.
func (s *Server) Map() *mapengine.Map { return s.services.Map }

// Plugin returns the attached plugin.
func (s *Server) Plugin() *plugin.AddLayers { return s.services.Plugin }

// Store returns the feature store, or nil when DuckDB is disabled.
func (s *Server) Store() *store.Store { return s.store }

// Close detaches the plugin and closes server resources.
func (s *Server) Close() error {
	s.cancel()
	s.services.Plugin.Destroy()
	s.services.Map.Close()
	if s.db != nil {
		return db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// REST API (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.services, s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)

	// Panel SSE routes using Huma + Datastar SDK
	panel.NewHandler(s.services.Plugin, s.dialogs, s.renderer).RegisterRoutes(s.humaAPI)

	s.mux.HandleFunc("/", s.handleRoot)
}

type pageData struct {
	Title                string
	PanelID              string
	ClassName            string
	Position             mapengine.Position
	Tooltip              string
	CollapsedButtonClass string
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	html, err := s.renderer.Render("page", pageData{
		Title:                "plat-addlayers",
		PanelID:              plugin.PanelID,
		ClassName:            plugin.PanelClass,
		Position:             mapengine.TopRight,
		Tooltip:              plugin.Tooltip,
		CollapsedButtonClass: plugin.CollapsedButtonClass,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, link := range api.RootLinks() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
