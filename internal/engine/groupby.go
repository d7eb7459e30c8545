package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// aggState accumulates one aggregate for one group. Decimal source
// columns take the exact rational path; everything else accumulates as
// float64.
type aggState struct {
	n    int64
	sumF float64
	minF float64
	maxF float64
	sumR *big.Rat
	minR *big.Rat
	maxR *big.Rat
}

type group struct {
	byValues []any
	rows     int64
	aggs     []aggState
}

type aggPlan struct {
	op      string
	colIdx  int
	decimal bool
	outName string
}

// applyGroupBy groups rows by the ordered tuple of stringified by-values
// and folds the declared aggregates. Structural violations (empty by,
// unknown columns) are argument errors; the group cap only warns.
func applyGroupBy(f *frame, step models.PipelineStep, bounds Bounds, warnings []string) ([]string, error) {
	if len(step.By) == 0 {
		return warnings, argErrorf("groupBy requires at least one by column")
	}

	byIdx := make([]int, len(step.By))
	for i, name := range step.By {
		idx := f.columnIndex(name)
		if idx < 0 {
			return warnings, argErrorf("groupBy column %q does not exist", name)
		}
		byIdx[i] = idx
	}

	plans := make([]aggPlan, 0, len(step.Aggregates))
	for _, agg := range step.Aggregates {
		plan := aggPlan{op: agg.Op, colIdx: -1, outName: agg.As}
		switch agg.Op {
		case models.AggCount:
			// count takes no source column
		case models.AggSum, models.AggAvg, models.AggMin, models.AggMax:
			if strings.TrimSpace(agg.Column) == "" {
				return warnings, argErrorf("aggregate %q requires a column", agg.Op)
			}
			idx := f.columnIndex(agg.Column)
			if idx < 0 {
				return warnings, argErrorf("aggregate column %q does not exist", agg.Column)
			}
			plan.colIdx = idx
			plan.decimal = f.cols[idx].Type == models.ColumnDecimal
		default:
			return warnings, argErrorf("unknown aggregate op %q", agg.Op)
		}
		if plan.outName == "" {
			plan.outName = agg.Op
			if agg.Column != "" {
				plan.outName = agg.Op + "_" + agg.Column
			}
		}
		plans = append(plans, plan)
	}

	groups := make(map[string]*group)
	var order []string
	capped := false

	for _, row := range f.rows {
		key := keyForColumns(row, byIdx)
		g, ok := groups[key]
		if !ok {
			if len(groups) >= bounds.MaxGroups {
				capped = true
				continue
			}
			byVals := make([]any, len(byIdx))
			for i, c := range byIdx {
				byVals[i] = row[c]
			}
			g = &group{byValues: byVals, aggs: make([]aggState, len(plans))}
			groups[key] = g
			order = append(order, key)
		}
		g.rows++
		for i, plan := range plans {
			if plan.colIdx < 0 {
				continue
			}
			foldAggregate(&g.aggs[i], plan, row[plan.colIdx])
		}
	}
	if capped {
		warnings = append(warnings, fmt.Sprintf("groupBy truncated to %d groups", bounds.MaxGroups))
	}

	cols := make([]models.Column, 0, len(byIdx)+len(plans))
	for _, c := range byIdx {
		cols = append(cols, f.cols[c])
	}
	for _, plan := range plans {
		typ := models.ColumnDouble
		if plan.decimal {
			typ = models.ColumnDecimal
		}
		cols = append(cols, models.Column{Name: plan.outName, Type: typ})
	}

	rows := make([][]any, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make([]any, 0, len(cols))
		row = append(row, g.byValues...)
		for i, plan := range plans {
			row = append(row, aggResult(&g.aggs[i], plan, g.rows))
		}
		rows = append(rows, row)
	}

	f.cols = cols
	f.rows = rows
	return warnings, nil
}

func foldAggregate(st *aggState, plan aggPlan, cell any) {
	if plan.decimal {
		r, ok := asRat(cell)
		if !ok {
			return
		}
		if st.n == 0 {
			st.sumR = new(big.Rat).Set(r)
			st.minR = new(big.Rat).Set(r)
			st.maxR = new(big.Rat).Set(r)
		} else {
			st.sumR.Add(st.sumR, r)
			if r.Cmp(st.minR) < 0 {
				st.minR.Set(r)
			}
			if r.Cmp(st.maxR) > 0 {
				st.maxR.Set(r)
			}
		}
		st.n++
		return
	}

	v, ok := asDouble(cell)
	if !ok {
		return
	}
	if st.n == 0 {
		st.sumF, st.minF, st.maxF = v, v, v
	} else {
		st.sumF += v
		if v < st.minF {
			st.minF = v
		}
		if v > st.maxF {
			st.maxF = v
		}
	}
	st.n++
}

// aggResult finalizes one aggregate. count is always double; avg of an
// empty accumulator is 0.
func aggResult(st *aggState, plan aggPlan, groupRows int64) any {
	if plan.op == models.AggCount {
		return float64(groupRows)
	}

	if plan.decimal {
		if st.n == 0 {
			return ratString(new(big.Rat))
		}
		switch plan.op {
		case models.AggSum:
			return ratString(st.sumR)
		case models.AggAvg:
			avg := new(big.Rat).Quo(st.sumR, new(big.Rat).SetInt64(st.n))
			return ratString(avg)
		case models.AggMin:
			return ratString(st.minR)
		case models.AggMax:
			return ratString(st.maxR)
		}
		return ratString(new(big.Rat))
	}

	if st.n == 0 {
		return float64(0)
	}
	switch plan.op {
	case models.AggSum:
		return st.sumF
	case models.AggAvg:
		return st.sumF / float64(st.n)
	case models.AggMin:
		return st.minF
	case models.AggMax:
		return st.maxF
	}
	return float64(0)
}
