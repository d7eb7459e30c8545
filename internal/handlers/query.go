package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/source"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

func dataQueryRegistration(deps Deps) tools.Registration {
	filterKeys := deps.QueryFilterKeys
	if len(filterKeys) == 0 && deps.Source != nil {
		seen := map[string]bool{}
		for _, name := range deps.Source.Names() {
			if def, ok := deps.Source.Def(name); ok {
				for _, p := range def.Params {
					if !seen[p] {
						seen[p] = true
						filterKeys = append(filterKeys, p)
					}
				}
			}
		}
		sort.Strings(filterKeys)
	}

	return tools.Registration{
		Name:        "data.query",
		Description: "Run a named atomic query with filters and materialize the result as a dataset.",
		Args: []tools.ArgSpec{
			{Name: "query", Type: tools.ArgString, Required: true},
		},
		Paging: tools.Paging{
			Supports:        true,
			DefaultPage:     1,
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
		FilterKeys:    filterKeys,
		FilterAliases: deps.QueryFilterAliases,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Name of a declared atomic query"},
				"filters": {"type": "object", "description": "Canonical filter key/value pairs; filters never carry over between calls"},
				"page": {"type": "integer", "minimum": 1},
				"pageSize": {"type": "integer", "minimum": 1, "maximum": 200}
			},
			"required": ["query"]
		}`),
	}
}

// DataQuery materializes a declared atomic query into a dataset and
// returns its id plus a first-page preview.
type DataQuery struct {
	source *source.SQLSource
	logger *observability.Logger
}

func NewDataQuery(deps Deps) *DataQuery {
	return &DataQuery{source: deps.Source, logger: deps.logger()}
}

func (h *DataQuery) Name() string { return "data.query" }

func (h *DataQuery) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	queryName := intent.String("query")
	if !h.source.Has(queryName) {
		return failf("unknown query %q", queryName), nil
	}

	ds, err := h.source.Materialize(ctx, queryName, intent.Filters, execCtx)
	if err != nil {
		return nil, fmt.Errorf("materialize %q: %w", queryName, err)
	}

	total := ds.RowCount()
	start, end := pageSlice(intent.Page, intent.PageSize, total)
	rows := make([][]any, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, ds.Row(i))
	}

	payload := map[string]any{
		"kind":          KindDataQuery,
		"schemaVersion": schemaVersion,
		"datasetId":     ds.ID,
		"query":         queryName,
		"rowCount":      total,
		"expiresAtUtc":  utcString(ds.CreatedAt.Add(ds.TTL)),
		"preview": map[string]any{
			"columns": columnsPayload(ds.Columns),
			"rows":    rows,
		},
	}
	return &dispatch.Outcome{
		Success: true,
		Message: fmt.Sprintf("materialized %d rows as dataset %s", total, ds.ID),
		Data:    payload,
		Source:  queryName,
		Evidence: map[string]any{
			"datasetId": ds.ID,
			"rowCount":  total,
		},
	}, nil
}
