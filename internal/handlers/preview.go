package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

func datasetPreviewRegistration() tools.Registration {
	return tools.Registration{
		Name:        "dataset.preview",
		Description: "Preview a page of rows from a materialized dataset.",
		Args: []tools.ArgSpec{
			{Name: "datasetId", Type: tools.ArgGUID, Required: true},
		},
		Paging: tools.Paging{
			Supports:        true,
			DefaultPage:     1,
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"datasetId": {"type": "string"},
				"page": {"type": "integer", "minimum": 1},
				"pageSize": {"type": "integer", "minimum": 1, "maximum": 200}
			},
			"required": ["datasetId"]
		}`),
	}
}

// DatasetPreview serves paged row windows over a dataset.
type DatasetPreview struct {
	store datasets.Store
}

func NewDatasetPreview(deps Deps) *DatasetPreview {
	return &DatasetPreview{store: deps.Store}
}

func (h *DatasetPreview) Name() string { return "dataset.preview" }

func (h *DatasetPreview) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	datasetID := intent.String("datasetId")
	ds, ok, err := h.store.Get(ctx, datasetID, execCtx.TenantID, execCtx.UserID)
	if err != nil {
		return nil, fmt.Errorf("dataset lookup: %w", err)
	}
	if !ok {
		return failf("dataset %q not found or expired", datasetID), nil
	}

	total := ds.RowCount()
	start, end := pageSlice(intent.Page, intent.PageSize, total)
	rows := make([][]any, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, ds.Row(i))
	}

	payload := map[string]any{
		"kind":          KindDatasetPreview,
		"schemaVersion": schemaVersion,
		"datasetId":     ds.ID,
		"columns":       columnsPayload(ds.Columns),
		"rows":          rows,
		"page":          intent.Page,
		"pageSize":      intent.PageSize,
		"totalRows":     total,
	}
	return &dispatch.Outcome{
		Success: true,
		Message: fmt.Sprintf("page %d shows rows %d-%d of %d", intent.Page, start+1, end, total),
		Data:    payload,
		Source:  ds.Source,
	}, nil
}
