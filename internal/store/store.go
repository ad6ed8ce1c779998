// Package store mirrors local layers into DuckDB so imported features can be
// listed and queried with SQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/joeblew999/plat-addlayers/internal/mapengine"
)

// Table holds one row per imported feature.
const Table = "local_features"

const schema = `CREATE TABLE IF NOT EXISTS ` + Table + ` (
	layer_id   VARCHAR NOT NULL,
	layer_name VARCHAR NOT NULL,
	origin     VARCHAR,
	feature_id VARCHAR,
	seq        INTEGER NOT NULL,
	geom_type  VARCHAR NOT NULL,
	geometry   VARCHAR NOT NULL,
	properties VARCHAR,
	min_x      DOUBLE,
	min_y      DOUBLE,
	max_x      DOUBLE,
	max_y      DOUBLE
)`

// Store writes layer features into DuckDB.
type Store struct {
	db *sql.DB
}

// New creates the feature table if needed.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create %s: %w", Table, err)
	}
	return &Store{db: db}, nil
}

// Save replaces the stored rows of layer. Geometries are stored as WGS84
// GeoJSON text.
func (s *Store) Save(ctx context.Context, m *mapengine.Map, layer *mapengine.Layer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+Table+` WHERE layer_id = ?`, layer.ID()); err != nil {
		return fmt.Errorf("clear layer %s: %w", layer.ID(), err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+Table+`
		(layer_id, layer_name, origin, feature_id, seq, geom_type, geometry, properties, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, f := range layer.Features() {
		g := m.Unproject(f.Geometry)
		geom, err := json.Marshal(geojson.NewGeometry(g))
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		b := g.Bound()
		if _, err := stmt.ExecContext(ctx,
			layer.ID(), layer.Name(), layer.Options().Origin, f.ID, i,
			f.GeometryType(), string(geom), string(props),
			b.Min[0], b.Min[1], b.Max[0], b.Max[1],
		); err != nil {
			return fmt.Errorf("insert feature %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Delete removes the rows of a layer.
func (s *Store) Delete(ctx context.Context, layerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+Table+` WHERE layer_id = ?`, layerID)
	return err
}

// Count returns the number of stored features of a layer.
func (s *Store) Count(ctx context.Context, layerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+Table+` WHERE layer_id = ?`, layerID).Scan(&n)
	return n, err
}

// Run subscribes to m and mirrors its layers in the background until ctx is
// done or the map is closed. The bus drops events for slow subscribers, so
// every layer event triggers a full resync against m.Layers() rather than
// applying the single event.
func (s *Store) Run(ctx context.Context, m *mapengine.Map) {
	ch := m.Bus().Subscribe()
	go func() {
		defer m.Bus().Unsubscribe(ch)
		s.run(ctx, m, ch)
	}()
}

func (s *Store) run(ctx context.Context, m *mapengine.Map, ch <-chan mapengine.Event) {
	stored := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Resource != mapengine.ResourceLayers {
				continue
			}
			s.sync(ctx, m, stored)
		}
	}
}

// sync saves loaded layers missing from stored and deletes stored layers
// that left the map. Layers still loading are picked up by their own event
// or by a later sync.
func (s *Store) sync(ctx context.Context, m *mapengine.Map, stored map[string]bool) {
	current := make(map[string]bool)
	for _, layer := range m.Layers() {
		current[layer.ID()] = true
		if stored[layer.ID()] || !loaded(layer) {
			continue
		}
		if err := s.Save(ctx, m, layer); err != nil {
			log.Error().Err(err).Str("layer", layer.Name()).Msg("Failed to store layer")
			continue
		}
		stored[layer.ID()] = true
		log.Debug().Str("layer", layer.Name()).Msg("Layer stored")
	}
	for id := range stored {
		if current[id] {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			log.Error().Err(err).Str("layer", id).Msg("Failed to delete stored layer")
			continue
		}
		delete(stored, id)
	}
}

func loaded(l *mapengine.Layer) bool {
	select {
	case <-l.Loaded():
		return true
	default:
		return false
	}
}
