package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/engine"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

func analyticsRunRegistration() tools.Registration {
	return tools.Registration{
		Name:        "analytics.run",
		Description: "Run an analytics pipeline (filter, select, groupBy, sort, topN, join) over a materialized dataset.",
		Args: []tools.ArgSpec{
			{Name: "datasetId", Type: tools.ArgGUID, Required: true},
			{Name: "pipeline", Type: tools.ArgJSON},
			{Name: "topN", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(5000)},
			{Name: "maxGroups", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(10000)},
			{Name: "maxResultRows", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(10000)},
			{Name: "maxJoinRows", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(50000)},
			{Name: "maxJoinMatchesPerLeft", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(1000)},
			{Name: "maxColumns", Type: tools.ArgInt, MinInt: intPtr(1), MaxInt: intPtr(200)},
			{Name: "persistAs", Type: tools.ArgString},
		},
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"datasetId": {"type": "string", "description": "Id of a previously materialized dataset"},
				"pipeline": {"description": "Pipeline steps: filter, select, groupBy, sort, topN, join"},
				"topN": {"type": "integer"},
				"persistAs": {"type": "string", "description": "Persist the result as a new dataset under this label"}
			},
			"required": ["datasetId"]
		}`),
	}
}

// AnalyticsRun executes pipelines over datasets, memoizing results in
// the result cache unless the caller persists the output as a new
// dataset.
type AnalyticsRun struct {
	store   datasets.Store
	cache   datasets.ResultCache
	logger  *observability.Logger
	metrics *observability.Metrics

	now   func() time.Time
	newID func() string
}

func NewAnalyticsRun(deps Deps) *AnalyticsRun {
	return &AnalyticsRun{
		store:   deps.Store,
		cache:   deps.Results,
		logger:  deps.logger(),
		metrics: deps.Metrics,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

func (h *AnalyticsRun) Name() string { return "analytics.run" }

func (h *AnalyticsRun) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	datasetID := intent.String("datasetId")
	ds, ok, err := h.store.Get(ctx, datasetID, execCtx.TenantID, execCtx.UserID)
	if err != nil {
		return nil, fmt.Errorf("dataset lookup: %w", err)
	}
	if !ok {
		return failf("dataset %q not found or expired", datasetID), nil
	}

	bounds := boundsFromIntent(intent).Clamped()
	pipelineJSON := intent.JSON("pipeline")
	plan, warnings, err := models.ParsePipeline(pipelineJSON)
	if err != nil {
		return failf("invalid pipeline: %v", err), nil
	}

	persistAs := intent.String("persistAs")
	key := datasets.ResultKey(datasetID, bounds, pipelineJSON)

	// Persisting bypasses the cache: the derived dataset id must be
	// fresh on every call.
	if persistAs == "" && h.cache != nil {
		if cached, hit := h.cache.Get(ctx, key); hit {
			h.recordCacheLookup(true)
			var payload map[string]any
			if err := json.Unmarshal(cached.Payload, &payload); err == nil {
				payload["cached"] = true
				return &dispatch.Outcome{
					Success:  true,
					Message:  "analytics result served from cache",
					Data:     payload,
					Warnings: cached.Warnings,
					Source:   ds.Source,
				}, nil
			}
		}
		h.recordCacheLookup(false)
	}

	resolve := func(id string) (*models.Dataset, bool) {
		right, found, err := h.store.Get(ctx, id, execCtx.TenantID, execCtx.UserID)
		if err != nil || !found {
			return nil, false
		}
		return right, true
	}

	result, execWarnings, err := engine.Execute(ds, plan, bounds, resolve)
	if err != nil {
		// *engine.ArgError maps to VALIDATION_ERROR upstream.
		return nil, err
	}
	warnings = append(warnings, execWarnings...)

	payload := map[string]any{
		"kind":          KindAnalyticsRun,
		"schemaVersion": schemaVersion,
		"datasetId":     datasetID,
		"columns":       columnsPayload(result.Columns),
		"rows":          result.Rows,
		"rowCount":      len(result.Rows),
	}

	if persistAs != "" {
		derived := h.datasetFromResult(persistAs, ds, result)
		if err := h.store.Put(ctx, derived); err != nil {
			warnings = append(warnings, fmt.Sprintf("persist failed: %v", err))
		} else {
			payload["persistedDatasetId"] = derived.ID
			h.logger.Info(ctx, "analytics result persisted",
				"dataset_id", derived.ID, "source", persistAs, "rows", len(result.Rows))
		}
	} else if h.cache != nil {
		if raw, err := json.Marshal(payload); err == nil {
			h.cache.Set(ctx, key, &datasets.CachedResult{Payload: raw, Warnings: warnings}, 0)
		}
	}

	return &dispatch.Outcome{
		Success:  true,
		Message:  fmt.Sprintf("pipeline produced %d rows", len(result.Rows)),
		Data:     payload,
		Warnings: warnings,
		Source:   ds.Source,
	}, nil
}

func (h *AnalyticsRun) recordCacheLookup(hit bool) {
	if h.metrics != nil {
		h.metrics.RecordResultCacheLookup(hit)
	}
}

// datasetFromResult pivots a row-major result back into a columnar
// dataset owned by the same tenant/user as its base.
func (h *AnalyticsRun) datasetFromResult(label string, base *models.Dataset, result *engine.Result) *models.Dataset {
	data := make([][]any, len(result.Columns))
	for _, row := range result.Rows {
		for c := range result.Columns {
			data[c] = append(data[c], row[c])
		}
	}
	return &models.Dataset{
		ID:        h.newID(),
		Source:    label,
		TenantID:  base.TenantID,
		UserID:    base.UserID,
		CreatedAt: h.now().UTC(),
		TTL:       datasets.ClampTTL(0),
		Columns:   result.Columns,
		Data:      data,
	}
}

// boundsFromIntent reads the optional cap arguments; zeros fall through
// to the engine defaults.
func boundsFromIntent(intent *tools.Intent) engine.Bounds {
	return engine.Bounds{
		TopN:                  intent.Int("topN"),
		MaxGroups:             intent.Int("maxGroups"),
		MaxResultRows:         intent.Int("maxResultRows"),
		MaxJoinRows:           intent.Int("maxJoinRows"),
		MaxJoinMatchesPerLeft: intent.Int("maxJoinMatchesPerLeft"),
		MaxColumns:            intent.Int("maxColumns"),
	}
}

func analyticsDescribeRegistration() tools.Registration {
	return tools.Registration{
		Name:        "analytics.describe",
		Description: "Describe a materialized dataset: column schema and row count.",
		Args: []tools.ArgSpec{
			{Name: "datasetId", Type: tools.ArgGUID, Required: true},
		},
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"datasetId": {"type": "string"}
			},
			"required": ["datasetId"]
		}`),
	}
}

// AnalyticsDescribe reports a dataset's schema without touching its rows.
type AnalyticsDescribe struct {
	store datasets.Store
}

func NewAnalyticsDescribe(deps Deps) *AnalyticsDescribe {
	return &AnalyticsDescribe{store: deps.Store}
}

func (h *AnalyticsDescribe) Name() string { return "analytics.describe" }

func (h *AnalyticsDescribe) Handle(ctx context.Context, intent *tools.Intent, execCtx models.ExecutionContext) (*dispatch.Outcome, error) {
	datasetID := intent.String("datasetId")
	ds, ok, err := h.store.Get(ctx, datasetID, execCtx.TenantID, execCtx.UserID)
	if err != nil {
		return nil, fmt.Errorf("dataset lookup: %w", err)
	}
	if !ok {
		return failf("dataset %q not found or expired", datasetID), nil
	}

	payload := map[string]any{
		"kind":          KindAnalyticsDescribe,
		"schemaVersion": schemaVersion,
		"datasetId":     ds.ID,
		"source":        ds.Source,
		"schema":        columnsPayload(ds.Columns),
		"rowCount":      ds.RowCount(),
		"createdAtUtc":  utcString(ds.CreatedAt),
		"expiresAtUtc":  utcString(ds.CreatedAt.Add(ds.TTL)),
	}
	return &dispatch.Outcome{
		Success: true,
		Message: fmt.Sprintf("dataset has %d rows across %d columns", ds.RowCount(), len(ds.Columns)),
		Data:    payload,
		Source:  ds.Source,
	}, nil
}
