package engine

import (
	"sort"
	"strings"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// applyFilter keeps rows whose cell matches the step's operator. A
// missing column makes the step a no-op. Comparison is case-insensitive
// over stringified values; null cells compare as the empty string.
func applyFilter(f *frame, step models.PipelineStep) {
	idx := f.columnIndex(step.Column)
	if idx < 0 {
		return
	}

	want := strings.ToLower(step.Value)
	kept := f.rows[:0]
	for _, row := range f.rows {
		cell := strings.ToLower(formatCell(row[idx]))
		var match bool
		switch step.Operator {
		case models.FilterContains:
			match = strings.Contains(cell, want)
		default: // eq
			match = cell == want
		}
		if match {
			kept = append(kept, row)
		}
	}
	f.rows = kept
}

// applySelect projects the frame to the requested columns, preserving
// request order. Unknown names drop silently; duplicates collapse
// case-insensitively; if nothing resolves the frame stays unchanged.
func applySelect(f *frame, step models.PipelineStep) {
	seen := make(map[string]bool, len(step.Columns))
	var idx []int
	for _, name := range step.Columns {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if i := f.columnIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}

	cols := make([]models.Column, len(idx))
	for i, c := range idx {
		cols[i] = f.cols[c]
	}
	rows := make([][]any, len(f.rows))
	for r, row := range f.rows {
		out := make([]any, len(idx))
		for i, c := range idx {
			out[i] = row[c]
		}
		rows[r] = out
	}
	f.cols = cols
	f.rows = rows
}

// applySort stably orders rows by the stringified cell value with
// case-insensitive comparison. This intentionally applies to numeric
// columns as well. A missing column makes the step a no-op.
func applySort(f *frame, step models.PipelineStep) {
	idx := f.columnIndex(step.Column)
	if idx < 0 {
		return
	}
	desc := strings.EqualFold(step.Direction, "desc")
	sort.SliceStable(f.rows, func(a, b int) bool {
		av := strings.ToLower(formatCell(f.rows[a][idx]))
		bv := strings.ToLower(formatCell(f.rows[b][idx]))
		if desc {
			return av > bv
		}
		return av < bv
	})
}

// applyTopN keeps the first min(rows, clamp(n, 1, 5000)) rows.
func applyTopN(f *frame, step models.PipelineStep) {
	n := step.N
	if n < 1 {
		n = 1
	}
	if n > 5000 {
		n = 5000
	}
	if len(f.rows) > n {
		f.rows = f.rows[:n]
	}
}
