package api

import (
	"context"
	"database/sql"

	"github.com/danielgtaylor/huma/v2"
)

const defaultQueryLimit = 1000

// DBHandler exposes the DuckDB copy of the local layers. db is nil when the
// server runs without a database.
type DBHandler struct {
	db *sql.DB
}

func NewDBHandler(db *sql.DB) *DBHandler {
	return &DBHandler{db: db}
}

func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("db"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("db"))
}

type TableInfo struct {
	Name string `json:"name" example:"local_features"`
	Rows int64  `json:"rows" doc:"Estimated row count"`
}

type TablesBody struct {
	Tables []TableInfo `json:"tables"`
}

type TablesOutput struct {
	Body TablesBody
}

func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, errNoDB()
	}
	rows, err := h.db.QueryContext(ctx,
		"SELECT table_name, estimated_size FROM duckdb_tables() ORDER BY table_name")
	if err != nil {
		return nil, huma.Error500InternalServerError("list tables", err)
	}
	defer rows.Close()

	body := TablesBody{Tables: []TableInfo{}}
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Name, &t.Rows); err != nil {
			return nil, huma.Error500InternalServerError("list tables", err)
		}
		body.Tables = append(body.Tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("list tables", err)
	}
	return &TablesOutput{Body: body}, nil
}

type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"SQL statement" example:"SELECT layer_name, count(*) FROM local_features GROUP BY 1"`
		Limit int    `json:"limit,omitempty" minimum:"1" maximum:"10000" default:"1000" doc:"Maximum rows returned"`
	}
}

type QueryBody struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count" doc:"Number of rows returned"`
	Truncated bool             `json:"truncated" doc:"More rows matched than the limit"`
}

type QueryOutput struct {
	Body QueryBody
}

// Query runs a statement and returns at most limit rows. Bad SQL is the
// caller's fault, so it maps to 400.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.db == nil {
		return nil, errNoDB()
	}
	limit := input.Body.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	rows, err := h.db.QueryContext(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("query failed: " + err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, huma.Error500InternalServerError("query columns", err)
	}
	body := QueryBody{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(body.Rows) == limit {
			body.Truncated = true
			break
		}
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, huma.Error500InternalServerError("scan row", err)
		}
		body.Rows = append(body.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error400BadRequest("query failed: " + err.Error())
	}
	body.Count = len(body.Rows)
	return &QueryOutput{Body: body}, nil
}

// scanRow reads the current row into a column map. Blobs become strings so
// GeoJSON and WKT columns stay readable.
func scanRow(rows *sql.Rows, columns []string) (map[string]any, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = values[i]
	}
	return row, nil
}

func errNoDB() error {
	return huma.Error503ServiceUnavailable("database not available")
}
