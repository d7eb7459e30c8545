// Package source materializes datasets from declared atomic queries:
// named, stored-procedure-backed reads over database/sql. Handlers never
// see SQL; they name a query, hand over canonical filters, and get back
// a typed columnar dataset published to the dataset store.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// QueryDef declares one atomic query. Params lists the canonical filter
// keys bound, in order, to the query's positional arguments; absent
// filters bind as empty strings so stored procedures can treat them as
// "no filter".
type QueryDef struct {
	Name   string
	SQL    string
	Params []string
	TTL    time.Duration
}

// Open opens a Postgres pool for the query source.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open query source: %w", err)
	}
	return db, nil
}

// SQLSource runs declared queries and publishes the results as datasets.
type SQLSource struct {
	db      *sql.DB
	queries map[string]QueryDef
	store   datasets.Store
	logger  *observability.Logger
	metrics *observability.Metrics

	now   func() time.Time
	newID func() string
}

// New creates a source over the given pool and query catalog.
func New(db *sql.DB, defs []QueryDef, store datasets.Store, logger *observability.Logger, metrics *observability.Metrics) *SQLSource {
	queries := make(map[string]QueryDef, len(defs))
	for _, def := range defs {
		queries[def.Name] = def
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SQLSource{
		db:      db,
		queries: queries,
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Names returns the declared query names.
func (s *SQLSource) Names() []string {
	names := make([]string, 0, len(s.queries))
	for name := range s.queries {
		names = append(names, name)
	}
	return names
}

// Def returns the declaration of a named query.
func (s *SQLSource) Def(name string) (QueryDef, bool) {
	def, ok := s.queries[name]
	return def, ok
}

// Has reports whether a query is declared.
func (s *SQLSource) Has(name string) bool {
	_, ok := s.queries[name]
	return ok
}

// Materialize runs the named query with the canonical filters, builds a
// typed columnar dataset owned by the caller, and publishes it to the
// dataset store. A cancellation observed before publish leaves the
// store untouched.
func (s *SQLSource) Materialize(ctx context.Context, queryName string, filters map[string]string, execCtx models.ExecutionContext) (*models.Dataset, error) {
	def, ok := s.queries[queryName]
	if !ok {
		return nil, fmt.Errorf("unknown query %q", queryName)
	}

	args := make([]any, len(def.Params))
	for i, param := range def.Params {
		args[i] = filters[param]
	}

	start := s.now()
	rows, err := s.db.QueryContext(ctx, def.SQL, args...)
	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordDatabaseQuery("select", queryName, status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("run query %q: %w", queryName, err)
	}
	defer rows.Close()

	ds, err := s.buildDataset(rows, def, execCtx)
	if err != nil {
		return nil, fmt.Errorf("materialize %q: %w", queryName, err)
	}

	// Cancellation must not publish a half-materialized dataset.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, ds); err != nil {
		return nil, fmt.Errorf("publish dataset: %w", err)
	}

	s.logger.Info(ctx, "dataset materialized",
		"query", queryName, "dataset_id", ds.ID, "rows", ds.RowCount(),
		"tenant_id", execCtx.TenantID)
	return ds, nil
}

func (s *SQLSource) buildDataset(rows *sql.Rows, def QueryDef, execCtx models.ExecutionContext) (*models.Dataset, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]models.Column, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = models.Column{
			Name:        ct.Name(),
			Type:        columnTypeFor(ct.DatabaseTypeName()),
			DisplayName: ct.Name(),
		}
	}

	data := make([][]any, len(columns))
	scan := make([]any, len(columns))
	for i := range scan {
		scan[i] = new(any)
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		for i := range columns {
			raw := *(scan[i].(*any))
			data[i] = append(data[i], coerceSQLValue(raw, columns[i].Type))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.Dataset{
		ID:        s.newID(),
		Source:    def.Name,
		TenantID:  execCtx.TenantID,
		UserID:    execCtx.UserID,
		CreatedAt: s.now().UTC(),
		TTL:       datasets.ClampTTL(def.TTL),
		Columns:   columns,
		Data:      data,
	}, nil
}

// columnTypeFor maps database type names onto the closed column type
// set. Unknown types fall back to string.
func columnTypeFor(dbType string) models.ColumnType {
	switch strings.ToUpper(dbType) {
	case "INT2", "INT4", "SMALLINT", "INT", "INTEGER", "SERIAL":
		return models.ColumnInt32
	case "INT8", "BIGINT", "BIGSERIAL":
		return models.ColumnInt64
	case "FLOAT8", "DOUBLE PRECISION", "DOUBLE":
		return models.ColumnDouble
	case "FLOAT4", "REAL":
		return models.ColumnSingle
	case "NUMERIC", "DECIMAL", "MONEY":
		return models.ColumnDecimal
	case "BOOL", "BOOLEAN":
		return models.ColumnBool
	case "TIMESTAMP", "TIMESTAMPTZ", "DATE", "DATETIME", "TIME":
		return models.ColumnDateTime
	default:
		return models.ColumnString
	}
}

// coerceSQLValue normalizes driver values into the cell shapes the
// analytics engine expects for the declared column type. Decimals stay
// exact as strings.
func coerceSQLValue(v any, tag models.ColumnType) any {
	if v == nil {
		return nil
	}
	switch tag {
	case models.ColumnDecimal:
		switch val := v.(type) {
		case []byte:
			return string(val)
		case string:
			return val
		case float64:
			return fmt.Sprintf("%v", val)
		}
		return fmt.Sprint(v)
	case models.ColumnDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
		return v
	default:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}
}
