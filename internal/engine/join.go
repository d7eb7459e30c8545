package engine

import (
	"fmt"
	"strings"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// applyJoin joins the frame against a second dataset resolved through
// the injected resolver. Key-shape mistakes and an unresolvable right
// dataset are argument errors; missing key columns skip the join with a
// warning, and every cap breach emits its own warning.
func applyJoin(f *frame, step models.PipelineStep, bounds Bounds, resolve Resolver, warnings []string) ([]string, error) {
	if len(step.LeftKeys) == 0 || len(step.LeftKeys) != len(step.RightKeys) {
		return warnings, argErrorf("join requires matching non-empty leftKeys and rightKeys")
	}
	how := strings.ToLower(step.How)
	if how == "" {
		how = "inner"
	}
	if how != "inner" && how != "left" {
		return warnings, argErrorf("join how %q is not supported", step.How)
	}
	if resolve == nil {
		return warnings, argErrorf("join right dataset %q not found", step.RightDatasetID)
	}
	right, ok := resolve(step.RightDatasetID)
	if !ok || right == nil {
		return warnings, argErrorf("join right dataset %q not found", step.RightDatasetID)
	}

	leftIdx := make([]int, len(step.LeftKeys))
	for i, name := range step.LeftKeys {
		idx := f.columnIndex(name)
		if idx < 0 {
			return append(warnings, fmt.Sprintf("join skipped: left key column %q does not exist", name)), nil
		}
		leftIdx[i] = idx
	}
	rightIdx := make([]int, len(step.RightKeys))
	for i, name := range step.RightKeys {
		idx := right.ColumnIndex(name)
		if idx < 0 {
			return append(warnings, fmt.Sprintf("join skipped: right key column %q does not exist", name)), nil
		}
		rightIdx[i] = idx
	}

	rightRows := right.Rows()
	if len(rightRows) > bounds.MaxJoinRows {
		rightRows = rightRows[:bounds.MaxJoinRows]
		warnings = append(warnings, fmt.Sprintf("join right side indexed over first %d rows only", bounds.MaxJoinRows))
	}
	index := make(map[string][]int, len(rightRows))
	for i, row := range rightRows {
		key := keyForColumns(row, rightIdx)
		index[key] = append(index[key], i)
	}

	// Resolve which right columns come along, then rename them with the
	// prefix. Collisions against left names resolve by appending _2, _3,
	// and so on; a single coarse warning covers the whole step.
	outRightIdx := rightColumnSelection(right, step.SelectRight)
	taken := make(map[string]bool, len(f.cols)+len(outRightIdx))
	for _, c := range f.cols {
		taken[strings.ToLower(c.Name)] = true
	}
	rightCols := make([]models.Column, len(outRightIdx))
	collided := false
	for i, c := range outRightIdx {
		col := right.Columns[c]
		name := step.RightPrefix + col.Name
		if taken[strings.ToLower(name)] {
			collided = true
			for suffix := 2; ; suffix++ {
				candidate := fmt.Sprintf("%s_%d", name, suffix)
				if !taken[strings.ToLower(candidate)] {
					name = candidate
					break
				}
			}
		}
		taken[strings.ToLower(name)] = true
		rightCols[i] = models.Column{Name: name, Type: col.Type, DisplayName: col.DisplayName}
	}
	if collided {
		warnings = append(warnings, "join renamed right columns that collided with left column names")
	}

	matchesCapped := false
	outputCapped := false
	var out [][]any
	for _, row := range f.rows {
		if len(out) >= bounds.MaxJoinRows {
			outputCapped = true
			break
		}
		key := keyForColumns(row, leftIdx)
		matches := index[key]
		if len(matches) > bounds.MaxJoinMatchesPerLeft {
			matches = matches[:bounds.MaxJoinMatchesPerLeft]
			matchesCapped = true
		}
		if len(matches) == 0 {
			if how == "left" {
				joined := make([]any, 0, len(row)+len(outRightIdx))
				joined = append(joined, row...)
				for range outRightIdx {
					joined = append(joined, nil)
				}
				out = append(out, joined)
			}
			continue
		}
		for _, m := range matches {
			if len(out) >= bounds.MaxJoinRows {
				outputCapped = true
				break
			}
			joined := make([]any, 0, len(row)+len(outRightIdx))
			joined = append(joined, row...)
			for _, c := range outRightIdx {
				joined = append(joined, rightRows[m][c])
			}
			out = append(out, joined)
		}
	}
	if matchesCapped {
		warnings = append(warnings, fmt.Sprintf("join matches per left row capped at %d", bounds.MaxJoinMatchesPerLeft))
	}
	if outputCapped {
		warnings = append(warnings, fmt.Sprintf("join output truncated to %d rows", bounds.MaxJoinRows))
	}

	f.cols = append(f.cols, rightCols...)
	f.rows = out
	return warnings, nil
}

// rightColumnSelection resolves selectRight against the right dataset,
// case-insensitively, dropping unknown names. An empty selection carries
// every right column.
func rightColumnSelection(right *models.Dataset, selectRight []string) []int {
	if len(selectRight) == 0 {
		idx := make([]int, len(right.Columns))
		for i := range right.Columns {
			idx[i] = i
		}
		return idx
	}
	var idx []int
	seen := make(map[string]bool, len(selectRight))
	for _, name := range selectRight {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if i := right.ColumnIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
