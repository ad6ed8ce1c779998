package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-addlayers/internal/control"
	"github.com/joeblew999/plat-addlayers/internal/db"
	"github.com/joeblew999/plat-addlayers/internal/mapengine"
	"github.com/joeblew999/plat-addlayers/internal/server"
	"github.com/joeblew999/plat-addlayers/internal/store"
)

// Options defines all CLI flags and env vars for the server.
// Flags: --host, --port, --data-dir, --projection, --width, --height, --log-level, --no-db
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for the DuckDB feature store" default:".data"`
	Projection string `doc:"Map projection" default:"EPSG:3857" enum:"EPSG:3857,EPSG:900913,EPSG:4326"`
	Width      int    `doc:"Map viewport width in pixels" default:"1024"`
	Height     int    `doc:"Map viewport height in pixels" default:"768"`
	Fragments  string `doc:"Directory of HTML fragments overriding the embedded ones"`
	LogLevel   string `doc:"Log level" default:"info" enum:"trace,debug,info,warn,error"`
	NoDB       bool   `doc:"Keep layers in memory only"`
}

func setupLogging(level string) {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		Projection:   opts.Projection,
		Width:        opts.Width,
		Height:       opts.Height,
		FragmentsDir: opts.Fragments,
		DisableDB:    opts.NoDB,
	})
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		setupLogging(opts.LogLevel)
		var srv *server.Server
		var httpServer *http.Server

		hooks.OnStart(func() {
			var err error
			srv, err = newServer(opts)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create server")
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-addlayers server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Map:     %s %dx%d\n", opts.Projection, opts.Width, opts.Height)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Panel:   %s/\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Server error")
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if httpServer != nil {
				httpServer.Shutdown(ctx)
			}
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "addlayers"
	cli.Root().Short = "Load local KML, GPX, GeoJSON and zipped Shapefile files as map layers"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			srv, err := newServer(opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// import subcommand: load a local file without the UI
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a local file as a layer and store its features",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			setupLogging(opts.LogLevel)
			name, _ := cmd.Flags().GetString("name")
			noCenter, _ := cmd.Flags().GetBool("no-center")
			noStyles, _ := cmd.Flags().GetBool("no-styles")
			if err := runImport(cmd.Context(), opts, args[0], name, !noCenter, !noStyles); err != nil {
				log.Error().Err(err).Str("file", args[0]).Msg("Import failed")
				os.Exit(1)
			}
		}),
	}
	importCmd.Flags().StringP("name", "n", "", "Layer name (defaults to the file name without extension)")
	importCmd.Flags().Bool("no-center", false, "Do not fit the view to the loaded features")
	importCmd.Flags().Bool("no-styles", false, "Ignore KML styles")
	cli.Root().AddCommand(importCmd)

	cli.Run()
}

func runImport(ctx context.Context, opts *Options, path, name string, center, styles bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	file, err := control.OpenFile(path)
	if err != nil {
		return err
	}

	m, err := mapengine.New(mapengine.Options{Projection: opts.Projection, Width: opts.Width, Height: opts.Height})
	if err != nil {
		return err
	}
	defer m.Close()

	ctrl := control.New(control.Options{Notifier: control.LogNotifier{}})
	ctrl.AddedToMap(m)
	if err := ctrl.SelectFile(file); err != nil {
		return err
	}
	if name != "" {
		ctrl.EditName(name)
	}
	ctrl.SetCenterView(center)
	ctrl.SetExtractStyles(styles)

	result, err := ctrl.LoadLayer(ctx)
	if err != nil {
		return err
	}
	ev := log.Info().
		Str("layer", result.Layer).
		Str("format", string(result.Format)).
		Int("features", len(result.Features)).
		Int("parts", result.Parts)
	if result.Centered {
		b := m.ToWGS84(result.View.Extent)
		ev = ev.Floats64("extent", []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]})
	}
	ev.Msg("Imported")

	if opts.NoDB {
		return nil
	}
	conn, err := db.Open(db.Config{DataDir: opts.DataDir, DBName: "addlayers"})
	if err != nil {
		return err
	}
	defer conn.Close()
	st, err := store.New(ctx, conn)
	if err != nil {
		return err
	}
	for _, l := range m.Layers() {
		if err := st.Save(ctx, m, l); err != nil {
			return err
		}
	}
	log.Info().Str("data_dir", opts.DataDir).Int("layers", len(m.Layers())).Msg("Stored")
	return nil
}
