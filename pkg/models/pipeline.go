package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Pipeline step operations.
const (
	OpFilter  = "filter"
	OpSelect  = "select"
	OpGroupBy = "groupBy"
	OpSort    = "sort"
	OpTopN    = "topN"
	OpJoin    = "join"
)

// Filter operators.
const (
	FilterEq       = "eq"
	FilterContains = "contains"
)

// Aggregate operations for groupBy steps.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// Aggregate describes one groupBy output column. Count takes no source
// column; every other op requires one.
type Aggregate struct {
	Op     string `json:"op"`
	Column string `json:"column,omitempty"`
	As     string `json:"as"`
}

// PipelineStep is one step of the bounded pipeline DSL. Exactly the
// fields relevant to Op are populated; the rest stay zero.
type PipelineStep struct {
	Op string `json:"op"`

	// filter
	Column   string `json:"column,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`

	// select
	Columns []string `json:"columns,omitempty"`

	// groupBy
	By         []string    `json:"by,omitempty"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`

	// sort. Comparison is always over stringified cell values with
	// case-insensitive ordering, including numeric columns.
	Direction string `json:"direction,omitempty"`

	// topN
	N int `json:"n,omitempty"`

	// join
	RightDatasetID string   `json:"rightDatasetId,omitempty"`
	LeftKeys       []string `json:"leftKeys,omitempty"`
	RightKeys      []string `json:"rightKeys,omitempty"`
	How            string   `json:"how,omitempty"`
	RightPrefix    string   `json:"rightPrefix,omitempty"`
	SelectRight    []string `json:"selectRight,omitempty"`
}

// Pipeline is an ordered sequence of steps.
type Pipeline struct {
	Steps []PipelineStep `json:"steps"`
}

// ParsePipeline decodes the tool-facing pipeline DSL. The payload is
// either {"steps":[...]} or a bare [...] array. Steps with an unknown op
// are dropped with a warning rather than rejected; numeric parameters
// tolerate both number and string encodings.
func ParsePipeline(raw json.RawMessage) (Pipeline, []string, error) {
	var warnings []string
	if len(raw) == 0 {
		return Pipeline{}, nil, nil
	}

	trimmed := strings.TrimSpace(string(raw))
	var rawSteps []json.RawMessage
	switch {
	case trimmed == "" || trimmed == "null":
		return Pipeline{}, nil, nil
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &rawSteps); err != nil {
			return Pipeline{}, nil, fmt.Errorf("pipeline: %w", err)
		}
	default:
		var wrapper struct {
			Steps []json.RawMessage `json:"steps"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return Pipeline{}, nil, fmt.Errorf("pipeline: %w", err)
		}
		rawSteps = wrapper.Steps
	}

	p := Pipeline{Steps: make([]PipelineStep, 0, len(rawSteps))}
	for i, rs := range rawSteps {
		step, ok, err := parseStep(rs)
		if err != nil {
			return Pipeline{}, nil, fmt.Errorf("pipeline step %d: %w", i, err)
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("pipeline step %d: unknown op ignored", i))
			continue
		}
		p.Steps = append(p.Steps, step)
	}
	return p, warnings, nil
}

func parseStep(raw json.RawMessage) (PipelineStep, bool, error) {
	var probe struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return PipelineStep{}, false, err
	}

	switch probe.Op {
	case OpFilter, OpSelect, OpGroupBy, OpSort, OpTopN, OpJoin:
	default:
		return PipelineStep{}, false, nil
	}

	var decoded struct {
		PipelineStep
		N     flexInt `json:"n"`
		Value flexStr `json:"value"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PipelineStep{}, false, err
	}
	step := decoded.PipelineStep
	step.N = int(decoded.N)
	step.Value = string(decoded.Value)
	return step, true, nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexInt(int(v))
	return nil
}

// flexStr accepts strings, numbers, and booleans, stringifying non-strings.
type flexStr string

func (f *flexStr) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexStr(s)
		return nil
	}
	*f = flexStr(strings.Trim(trimmed, `"`))
	return nil
}
