package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/engine"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

const (
	testDatasetID = "7b4f9c1e-2d3a-4b5c-8d6e-9f0a1b2c3d4e"
	testTenant    = "t1"
	testUser      = "u1"
)

func execCtx() models.ExecutionContext {
	return models.ExecutionContext{TenantID: testTenant, UserID: testUser, Roles: []string{"analyst"}}
}

func seededStore(t *testing.T) *datasets.MemoryStore {
	t.Helper()
	store := datasets.NewMemoryStore()
	ds := &models.Dataset{
		ID:        testDatasetID,
		Source:    "orders.bySeason",
		TenantID:  testTenant,
		UserID:    testUser,
		CreatedAt: time.Now().UTC(),
		TTL:       10 * time.Minute,
		Columns: []models.Column{
			{Name: "category", Type: models.ColumnString},
			{Name: "price", Type: models.ColumnDouble},
		},
		Data: [][]any{
			{"A", "A", "B"},
			{float64(10), float64(20), float64(30)},
		},
	}
	if err := store.Put(context.Background(), ds); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func runIntent(args map[string]any) *tools.Intent {
	merged := map[string]any{"datasetId": testDatasetID}
	for k, v := range args {
		merged[k] = v
	}
	return &tools.Intent{Tool: "analytics.run", Page: 1, Args: merged}
}

func groupByCountPipeline() json.RawMessage {
	return json.RawMessage(`[{"op":"groupBy","by":["category"],"aggregates":[{"op":"count","as":"n"}]}]`)
}

func TestAnalyticsRunGroupCount(t *testing.T) {
	h := NewAnalyticsRun(Deps{Store: seededStore(t)})

	out, err := h.Handle(context.Background(),
		runIntent(map[string]any{"pipeline": groupByCountPipeline()}), execCtx())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.Success {
		t.Fatalf("outcome failed: %s", out.Message)
	}

	data := out.Data
	if data["kind"] != KindAnalyticsRun || data["rowCount"] != 2 {
		t.Fatalf("payload = %+v", data)
	}
	rows := data["rows"].([][]any)
	if rows[0][0] != "A" || rows[0][1] != float64(2) {
		t.Fatalf("first group = %v", rows[0])
	}
	if rows[1][0] != "B" || rows[1][1] != float64(1) {
		t.Fatalf("second group = %v", rows[1])
	}
	cols := data["columns"].([]map[string]any)
	if cols[0]["name"] != "category" || cols[1]["name"] != "n" || cols[1]["type"] != "double" {
		t.Fatalf("columns = %v", cols)
	}
}

func TestAnalyticsRunSecondCallHitsCache(t *testing.T) {
	cache := datasets.NewMemoryResultCache()
	h := NewAnalyticsRun(Deps{Store: seededStore(t), Results: cache})

	intent := runIntent(map[string]any{"pipeline": groupByCountPipeline()})

	first, err := h.Handle(context.Background(), intent, execCtx())
	if err != nil || !first.Success {
		t.Fatalf("first call: %v %+v", err, first)
	}
	second, err := h.Handle(context.Background(), intent, execCtx())
	if err != nil || !second.Success {
		t.Fatalf("second call: %v %+v", err, second)
	}

	data := second.Data
	if data["cached"] != true {
		t.Fatal("second identical call must be a cache hit")
	}
	// Cache hits round-trip through JSON, so rows compare by value.
	firstRows, _ := json.Marshal(first.Data["rows"])
	secondRows, _ := json.Marshal(data["rows"])
	if string(firstRows) != string(secondRows) {
		t.Fatalf("rows differ: %s vs %s", firstRows, secondRows)
	}
}

func TestAnalyticsRunPersistAsBypassesCache(t *testing.T) {
	cache := datasets.NewMemoryResultCache()
	store := seededStore(t)
	h := NewAnalyticsRun(Deps{Store: store, Results: cache})
	h.newID = func() string { return "derived-1" }

	intent := runIntent(map[string]any{
		"pipeline":  groupByCountPipeline(),
		"persistAs": "categories",
	})
	out, err := h.Handle(context.Background(), intent, execCtx())
	if err != nil || !out.Success {
		t.Fatalf("Handle: %v %+v", err, out)
	}

	data := out.Data
	if data["persistedDatasetId"] != "derived-1" {
		t.Fatalf("payload = %+v", data)
	}
	derived, ok, err := store.Get(context.Background(), "derived-1", testTenant, testUser)
	if err != nil || !ok {
		t.Fatalf("derived dataset missing: %v", err)
	}
	if derived.Source != "categories" || derived.RowCount() != 2 {
		t.Fatalf("derived = %+v", derived)
	}

	// Persisting must not populate the memoization cache.
	again, err := h.Handle(context.Background(),
		runIntent(map[string]any{"pipeline": groupByCountPipeline()}), execCtx())
	if err != nil {
		t.Fatalf("followup: %v", err)
	}
	if again.Data["cached"] == true {
		t.Fatal("persistAs call must bypass the cache")
	}
}

func TestAnalyticsRunDatasetNotFound(t *testing.T) {
	h := NewAnalyticsRun(Deps{Store: datasets.NewMemoryStore()})

	out, err := h.Handle(context.Background(), runIntent(nil), execCtx())
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success {
		t.Fatal("missing dataset must fail the outcome")
	}
}

func TestAnalyticsRunStructuralErrorSurfacesAsArgError(t *testing.T) {
	h := NewAnalyticsRun(Deps{Store: seededStore(t)})

	intent := runIntent(map[string]any{
		"pipeline": json.RawMessage(`[{"op":"groupBy","by":["ghost"],"aggregates":[{"op":"count","as":"n"}]}]`),
	})
	_, err := h.Handle(context.Background(), intent, execCtx())
	var argErr *engine.ArgError
	if !errors.As(err, &argErr) {
		t.Fatalf("err = %v, want *engine.ArgError", err)
	}
}

func TestAnalyticsDescribe(t *testing.T) {
	h := NewAnalyticsDescribe(Deps{Store: seededStore(t)})

	intent := &tools.Intent{Tool: "analytics.describe", Page: 1,
		Args: map[string]any{"datasetId": testDatasetID}}
	out, err := h.Handle(context.Background(), intent, execCtx())
	if err != nil || !out.Success {
		t.Fatalf("Handle: %v %+v", err, out)
	}

	data := out.Data
	if data["kind"] != KindAnalyticsDescribe || data["rowCount"] != 3 {
		t.Fatalf("payload = %+v", data)
	}
	schema := data["schema"].([]map[string]any)
	if len(schema) != 2 || schema[0]["name"] != "category" {
		t.Fatalf("schema = %v", schema)
	}
}

func TestDatasetPreviewPaging(t *testing.T) {
	h := NewDatasetPreview(Deps{Store: seededStore(t)})

	intent := &tools.Intent{Tool: "dataset.preview", Page: 2, PageSize: 2,
		Args: map[string]any{"datasetId": testDatasetID}}
	out, err := h.Handle(context.Background(), intent, execCtx())
	if err != nil || !out.Success {
		t.Fatalf("Handle: %v %+v", err, out)
	}

	data := out.Data
	rows := data["rows"].([][]any)
	if len(rows) != 1 || rows[0][0] != "B" {
		t.Fatalf("page 2 rows = %v", rows)
	}
	if data["totalRows"] != 3 || data["page"] != 2 || data["pageSize"] != 2 {
		t.Fatalf("paging = %+v", data)
	}
}

func TestDatasetPreviewWrongTenant(t *testing.T) {
	h := NewDatasetPreview(Deps{Store: seededStore(t)})

	intent := &tools.Intent{Tool: "dataset.preview", Page: 1, PageSize: 20,
		Args: map[string]any{"datasetId": testDatasetID}}
	out, err := h.Handle(context.Background(), intent,
		models.ExecutionContext{TenantID: "t2", UserID: testUser})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Success {
		t.Fatal("foreign tenant must not see the dataset")
	}
}
