package engine

// Bounds enumerates the hard caps applied while executing a pipeline.
// All values are clamped to documented ranges before use; the engine
// records a warning whenever a cap truncates output, and never fails
// because of one.
type Bounds struct {
	// TopN caps the final row count together with MaxResultRows.
	// Range: 1..5000.
	TopN int

	// MaxGroups caps the number of groups a groupBy step may emit.
	// Range: 1..10000.
	MaxGroups int

	// MaxJoinRows caps both the indexed right-side rows and the join
	// output rows. Range: 1..50000.
	MaxJoinRows int

	// MaxJoinMatchesPerLeft caps matches taken per left row.
	// Range: 1..1000.
	MaxJoinMatchesPerLeft int

	// MaxColumns caps the final column count. Range: 1..200.
	MaxColumns int

	// MaxResultRows caps the final row count. Range: 1..10000.
	MaxResultRows int
}

// DefaultBounds returns the caps used when a caller supplies none.
func DefaultBounds() Bounds {
	return Bounds{
		TopN:                  50,
		MaxGroups:             1000,
		MaxJoinRows:           5000,
		MaxJoinMatchesPerLeft: 100,
		MaxColumns:            50,
		MaxResultRows:         1000,
	}
}

// Clamped returns a copy with every cap forced into its documented range.
// Zero or negative values take the default.
func (b Bounds) Clamped() Bounds {
	def := DefaultBounds()
	b.TopN = clamp(b.TopN, 1, 5000, def.TopN)
	b.MaxGroups = clamp(b.MaxGroups, 1, 10000, def.MaxGroups)
	b.MaxJoinRows = clamp(b.MaxJoinRows, 1, 50000, def.MaxJoinRows)
	b.MaxJoinMatchesPerLeft = clamp(b.MaxJoinMatchesPerLeft, 1, 1000, def.MaxJoinMatchesPerLeft)
	b.MaxColumns = clamp(b.MaxColumns, 1, 200, def.MaxColumns)
	b.MaxResultRows = clamp(b.MaxResultRows, 1, 10000, def.MaxResultRows)
	return b
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
