// Package handlers implements the tool handlers behind the dispatcher:
// analytics over materialized datasets, dataset previews, atomic query
// materialization, and the two-phase order write pair. Handlers consume
// validated intents and never touch envelopes, telemetry, or
// authorization.
package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/plans"
	"github.com/bindevz/tilsoftai/internal/source"
	"github.com/bindevz/tilsoftai/internal/tools"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// Response payload kinds and their schema version.
const (
	KindAnalyticsRun      = "analytics.run.v2"
	KindAnalyticsDescribe = "analytics.describe.v2"
	KindDatasetPreview    = "dataset.preview.v2"
	KindDataQuery         = "data.query.v2"

	schemaVersion = 2
)

// Deps carries the infrastructure the handlers share.
type Deps struct {
	Store   datasets.Store
	Results datasets.ResultCache
	Source  *source.SQLSource
	Plans   plans.Store
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// WriteRoles is the allow-list for the order write pair.
	WriteRoles []string

	// PlanTTL overrides the prepare-to-commit window; zero keeps the
	// store default.
	PlanTTL time.Duration

	// QueryFilterKeys / QueryFilterAliases configure the data.query
	// filter canonicalizer. Empty keys derive from the source's declared
	// query parameters.
	QueryFilterKeys    []string
	QueryFilterAliases map[string]string
}

// RegisterAll declares every tool in the registry and binds its handler
// in the dispatcher.
func RegisterAll(registry *tools.Registry, dispatcher *dispatch.Dispatcher, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if len(deps.WriteRoles) == 0 {
		deps.WriteRoles = []string{"sales.write"}
	}

	type binding struct {
		reg     tools.Registration
		handler dispatch.Handler
	}
	bindings := []binding{
		{analyticsRunRegistration(), NewAnalyticsRun(deps)},
		{analyticsDescribeRegistration(), NewAnalyticsDescribe(deps)},
		{datasetPreviewRegistration(), NewDatasetPreview(deps)},
		{orderPrepareRegistration(deps.WriteRoles), NewOrderPrepare(deps)},
		{orderCommitRegistration(deps.WriteRoles), NewOrderCommit(deps)},
	}
	if deps.Source != nil {
		bindings = append(bindings, binding{dataQueryRegistration(deps), NewDataQuery(deps)})
	}

	for _, b := range bindings {
		if err := registry.Register(b.reg); err != nil {
			return fmt.Errorf("register %s: %w", b.reg.Name, err)
		}
		if err := dispatcher.Register(b.handler); err != nil {
			return fmt.Errorf("bind %s: %w", b.reg.Name, err)
		}
	}
	return nil
}

// logger returns the configured logger or a no-op one.
func (d Deps) logger() *observability.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return observability.NewNopLogger()
}

// columnsPayload renders columns in the contract shape {name, type,
// displayName}.
func columnsPayload(cols []models.Column) []map[string]any {
	out := make([]map[string]any, len(cols))
	for i, c := range cols {
		col := map[string]any{
			"name": c.Name,
			"type": string(c.Type),
		}
		if c.DisplayName != "" && c.DisplayName != c.Name {
			col["displayName"] = c.DisplayName
		}
		out[i] = col
	}
	return out
}

// pageSlice returns the half-open row range for a page over total rows.
func pageSlice(page, pageSize, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start >= total {
		return total, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// newPlanID returns a 32-char lowercase hex id, matching the CONFIRM
// token shape.
func newPlanID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func failf(format string, args ...any) *dispatch.Outcome {
	return &dispatch.Outcome{Success: false, Message: fmt.Sprintf(format, args...)}
}

func intPtr(v int) *int { return &v }

func utcString(t time.Time) string { return t.UTC().Format(time.RFC3339) }
