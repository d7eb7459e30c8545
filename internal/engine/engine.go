// Package engine executes the bounded analytics pipeline DSL over
// in-memory tabular datasets. Execute is a pure function: it touches no
// storage and resolves join targets only through the injected resolver,
// so it stays testable without infrastructure.
//
// Failure model: structural mistakes (unknown aggregate column, empty
// groupBy, malformed join keys, unresolvable right dataset) return an
// *ArgError. Every cap breach is recorded as a warning, never an error.
package engine

import (
	"fmt"
	"strings"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// Resolver looks up a dataset by id for join steps. Implementations must
// enforce tenant/user ownership before returning a dataset.
type Resolver func(datasetID string) (*models.Dataset, bool)

// Result is the tabular output of a pipeline run.
type Result struct {
	Columns []models.Column `json:"schema"`
	Rows    [][]any         `json:"rows"`
}

// ArgError marks a structurally invalid pipeline. It maps to
// VALIDATION_ERROR at the invoker boundary.
type ArgError struct {
	Msg string
}

func (e *ArgError) Error() string { return e.Msg }

func argErrorf(format string, args ...any) *ArgError {
	return &ArgError{Msg: fmt.Sprintf(format, args...)}
}

// frame is the mutable row-major working set a pipeline transforms.
type frame struct {
	cols []models.Column
	rows [][]any
}

// Execute runs the pipeline over the dataset under the given bounds.
// Warnings accumulate across steps and final truncation.
func Execute(ds *models.Dataset, plan models.Pipeline, bounds Bounds, resolve Resolver) (*Result, []string, error) {
	if ds == nil {
		return nil, nil, argErrorf("dataset is required")
	}
	bounds = bounds.Clamped()

	f := &frame{
		cols: append([]models.Column(nil), ds.Columns...),
		rows: ds.Rows(),
	}

	var warnings []string
	for i, step := range plan.Steps {
		var err error
		switch step.Op {
		case models.OpFilter:
			applyFilter(f, step)
		case models.OpSelect:
			applySelect(f, step)
		case models.OpGroupBy:
			warnings, err = applyGroupBy(f, step, bounds, warnings)
		case models.OpSort:
			applySort(f, step)
		case models.OpTopN:
			applyTopN(f, step)
		case models.OpJoin:
			warnings, err = applyJoin(f, step, bounds, resolve, warnings)
		default:
			// ParsePipeline drops unknown ops; tolerate them here too.
			warnings = append(warnings, fmt.Sprintf("step %d: unknown op %q ignored", i, step.Op))
		}
		if err != nil {
			return nil, warnings, err
		}
	}

	warnings = enforceFinalBounds(f, bounds, warnings)
	return &Result{Columns: f.cols, Rows: f.rows}, warnings, nil
}

func enforceFinalBounds(f *frame, bounds Bounds, warnings []string) []string {
	rowCap := bounds.TopN
	if bounds.MaxResultRows < rowCap {
		rowCap = bounds.MaxResultRows
	}
	if len(f.rows) > rowCap {
		f.rows = f.rows[:rowCap]
		warnings = append(warnings, fmt.Sprintf("result truncated to %d rows", rowCap))
	}
	if len(f.cols) > bounds.MaxColumns {
		f.cols = f.cols[:bounds.MaxColumns]
		for i, row := range f.rows {
			f.rows[i] = row[:bounds.MaxColumns]
		}
		warnings = append(warnings, fmt.Sprintf("result truncated to %d columns", bounds.MaxColumns))
	}
	return warnings
}

// columnIndex resolves a column name case-insensitively within the frame.
func (f *frame) columnIndex(name string) int {
	for i, c := range f.cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
